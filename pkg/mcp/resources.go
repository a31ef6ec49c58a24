package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/liliang-cn/mrag/pkg/imageproc"
	"github.com/liliang-cn/mrag/pkg/log"
	"github.com/liliang-cn/mrag/pkg/services"
)

const (
	documentsListURI = "resource://documents/list"
	documentURIBase  = "resource://documents/"
)

func (s *Server) registerResources() {
	listResource := mcp.NewResource(
		documentsListURI,
		"ドキュメント一覧",
		mcp.WithResourceDescription("RAGシステムに登録されているすべてのドキュメント（テキストと画像）の一覧を取得します"),
		mcp.WithMIMEType("application/json"),
	)
	s.mcp.AddResource(listResource, s.readDocumentsList)

	documentTemplate := mcp.NewResourceTemplate(
		documentURIBase+"{id}",
		"ドキュメント詳細",
		mcp.WithTemplateDescription("指定したIDのドキュメントまたは画像の詳細情報を取得します"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.mcp.AddResourceTemplate(documentTemplate, s.readDocumentByID)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) readDocumentsList(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(documentsListURI, s.docs.ListDocuments(ctx, 0, true))
}

// imageResult extends an image lookup with the encoded bytes so MCP
// clients can render the picture without filesystem access.
type imageResult struct {
	services.GetResult
	DataBase64 string `json:"data_base64,omitempty"`
}

func (s *Server) readDocumentByID(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, documentURIBase)
	if id == "" || id == uri {
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}

	res := s.docs.GetDocumentByID(ctx, id)
	if res.Success && res.Image != nil {
		encoded, err := imageproc.EncodeBase64(res.Image.Path)
		if err != nil {
			log.WithModule("mcp").Warn("failed to inline image data", "path", res.Image.Path, "error", err)
		}
		return jsonContents(uri, imageResult{GetResult: res, DataBase64: encoded})
	}
	return jsonContents(uri, res)
}
