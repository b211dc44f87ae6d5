package toolserver

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// flattenContent joins a tool result's content blocks into text for the model
func flattenContent(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", v.MIMEType))
		case mcp.EmbeddedResource:
			parts = append(parts, resourceText(v.Resource))
		}
	}
	return strings.Join(parts, "\n")
}

func resourceText(r mcp.ResourceContents) string {
	switch v := r.(type) {
	case mcp.TextResourceContents:
		return v.Text
	case mcp.BlobResourceContents:
		return fmt.Sprintf("[resource %s]", v.URI)
	default:
		return ""
	}
}
