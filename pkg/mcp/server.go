// Package mcp exposes the document service over the Model Context
// Protocol so MCP clients such as Claude Desktop can drive the system
// as a set of tools. Handlers return domain failures inside the JSON
// result payload, never as protocol errors.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/liliang-cn/mrag/pkg/log"
	"github.com/liliang-cn/mrag/pkg/services"
)

const serverName = "mrag-mcp-server"

// Server wires the document service into an MCP stdio server.
type Server struct {
	docs *services.DocumentService
	mcp  *server.MCPServer
}

// NewServer registers all tools and resources on a fresh MCP server.
func NewServer(version string, docs *services.DocumentService) *Server {
	s := &Server{
		docs: docs,
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(true, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Serve blocks on the stdio transport until the client disconnects.
func (s *Server) Serve() error {
	log.WithModule("mcp").Info("serving over stdio", "server", serverName)
	if err := server.ServeStdio(s.mcp); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// jsonResult marshals a service result as the tool's text content.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerTools() {
	addTool := mcp.NewTool("add_document",
		mcp.WithDescription("テキストまたは画像ドキュメントをRAGシステムに追加します。ファイルパスを指定して、テキストドキュメントまたは画像を登録できます。ディレクトリを指定すると直下の対応ファイルを一括追加します。"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("追加するファイルまたはディレクトリのパス"),
		),
		mcp.WithString("caption",
			mcp.Description("画像の場合のキャプション（オプション、画像ファイルのみ）"),
		),
		mcp.WithArray("tags",
			mcp.Description("画像に付与するタグのリスト（オプション、画像ファイルのみ）"),
		),
	)
	s.mcp.AddTool(addTool, s.handleAddDocument)

	listTool := mcp.NewTool("list_documents",
		mcp.WithDescription("RAGシステムに登録されているドキュメント一覧を取得します。テキストドキュメントと画像の両方を含みます。"),
		mcp.WithNumber("limit",
			mcp.Description("返すドキュメント数の上限（省略時は全件取得）"),
		),
		mcp.WithBoolean("include_images",
			mcp.Description("画像も含めるかどうか（デフォルト: true）"),
		),
	)
	s.mcp.AddTool(listTool, s.handleListDocuments)

	searchTool := mcp.NewTool("search",
		mcp.WithDescription("キーワードでドキュメントを検索します。指定されたクエリに類似したドキュメントチャンクを検索し、類似度スコアと共に返します。"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("検索クエリ文字列"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("返す検索結果の最大数（デフォルト: 5）"),
		),
	)
	s.mcp.AddTool(searchTool, s.handleSearch)

	searchImagesTool := mcp.NewTool("search_images",
		mcp.WithDescription("キーワードで画像を検索します。画像のキャプションに対する意味検索を行い、類似度スコアと共に返します。"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("検索クエリ文字列"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("返す検索結果の最大数（デフォルト: 5）"),
		),
	)
	s.mcp.AddTool(searchImagesTool, s.handleSearchImages)

	removeTool := mcp.NewTool("remove_document",
		mcp.WithDescription("ドキュメントまたは画像をIDで削除します。テキストドキュメントIDまたは画像IDを指定して、RAGシステムから削除できます。"),
		mcp.WithString("item_id",
			mcp.Required(),
			mcp.Description("削除するドキュメントIDまたは画像ID"),
		),
		mcp.WithString("item_type",
			mcp.Description("削除するアイテムのタイプ（'document' または 'image'）。省略時は自動判定します。"),
			mcp.Enum("document", "image", "auto"),
		),
	)
	s.mcp.AddTool(removeTool, s.handleRemoveDocument)

	clearTool := mcp.NewTool("clear_documents",
		mcp.WithDescription("登録されているドキュメントを一括削除します。テキストのみ、画像のみ、または両方を選択できます。"),
		mcp.WithBoolean("clear_text",
			mcp.Description("テキストドキュメントを削除するか（デフォルト: true）"),
		),
		mcp.WithBoolean("clear_images",
			mcp.Description("画像を削除するか（デフォルト: true）"),
		),
	)
	s.mcp.AddTool(clearTool, s.handleClearDocuments)
}

func (s *Server) handleAddDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError("file_path parameter is required"), nil
	}
	caption := request.GetString("caption", "")
	tags := stringSlice(request.GetArguments()["tags"])

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return jsonResult(s.docs.AddDirectory(ctx, path))
	}
	return jsonResult(s.docs.AddFile(ctx, path, caption, tags))
}

func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("limit", 0))
	includeImages := request.GetBool("include_images", true)
	return jsonResult(s.docs.ListDocuments(ctx, limit, includeImages))
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	topK := int(request.GetFloat("top_k", 0))
	return jsonResult(s.docs.SearchDocuments(ctx, query, topK))
}

func (s *Server) handleSearchImages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	topK := int(request.GetFloat("top_k", 0))
	return jsonResult(s.docs.SearchImages(ctx, query, topK))
}

func (s *Server) handleRemoveDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemID, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError("item_id parameter is required"), nil
	}
	itemType := request.GetString("item_type", "auto")
	return jsonResult(s.docs.RemoveDocument(ctx, itemID, itemType))
}

func (s *Server) handleClearDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clearText := request.GetBool("clear_text", true)
	clearImages := request.GetBool("clear_images", true)
	return jsonResult(s.docs.ClearDocuments(ctx, clearText, clearImages))
}

// stringSlice coerces a decoded JSON array into []string, dropping
// non-string elements.
func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
