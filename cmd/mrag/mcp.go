package mrag

import (
	"github.com/spf13/cobra"

	"github.com/liliang-cn/mrag/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the document tools over the Model Context Protocol",
	Long: `Start an MCP server on stdio so clients like Claude Desktop can add,
search and manage the indexed documents as tools.

Configure in claude_desktop_config.json:
  {
    "mcpServers": {
      "mrag": {
        "command": "mrag",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		return mcp.NewServer(version, app.docs).Serve()
	},
}

func init() {
	RootCmd.AddCommand(mcpCmd)
}
