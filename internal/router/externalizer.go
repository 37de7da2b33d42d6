package router

import (
	"fmt"
	"log/slog"

	"github.com/vantasec/redloop/internal/artifacts"
	"github.com/vantasec/redloop/pkg/models"
)

// Externalizer bounds the in-context size of tool results. Oversized text
// blocks are truncated; blocks past the artifact threshold are spilled to
// the artifact store and replaced by a reference with a bounded preview.
type Externalizer struct {
	// MaxResultChars caps a text block before truncation applies.
	MaxResultChars int

	// ArtifactThreshold is the size at which full text is written to an
	// artifact. Usually equal to or below MaxResultChars.
	ArtifactThreshold int

	// InlineHeadChars is how much of the artifact's head stays inline in
	// the replacement block. 0 disables the inline head.
	InlineHeadChars int

	// PreviewChars bounds the tail preview in the replacement block.
	PreviewChars int

	Store  *artifacts.Store
	Logger *slog.Logger

	// OnArtifact, when set, observes successful artifact writes (used
	// for metrics).
	OnArtifact func(toolName string)
}

const terminatedOutputMarker = "--- OUTPUT TERMINATED: result exceeded context budget ---"

// Process rewrites oversized text blocks in result in place. Artifact
// write failures are logged and swallowed; plain truncation still applies.
func (e *Externalizer) Process(toolName string, result *models.ToolResult) {
	if result == nil || e.MaxResultChars <= 0 {
		return
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for i := range result.Content {
		block := &result.Content[i]
		if block.Kind != models.ResultText {
			continue
		}
		if len(block.Text) <= e.MaxResultChars && (e.ArtifactThreshold <= 0 || len(block.Text) <= e.ArtifactThreshold) {
			continue
		}

		if e.ArtifactThreshold > 0 && len(block.Text) > e.ArtifactThreshold && e.Store != nil {
			artifact, err := e.Store.Save(toolName, []byte(block.Text))
			if err != nil {
				logger.Warn("artifact externalization failed, truncating inline",
					"tool", toolName,
					"size", len(block.Text),
					"error", err)
			} else {
				if e.OnArtifact != nil {
					e.OnArtifact(toolName)
				}
				block.Text = e.replacementText(block.Text, artifact)
				continue
			}
		}

		block.Text = e.truncate(block.Text)
	}
}

// replacementText builds the in-context substitute for an externalized
// block: marker, artifact path, follow-up command, inline head, preview.
func (e *Externalizer) replacementText(original string, artifact artifacts.Artifact) string {
	head := ""
	if e.InlineHeadChars > 0 {
		head = original
		if len(head) > e.InlineHeadChars {
			head = head[:e.InlineHeadChars]
		}
	}

	preview := original
	previewChars := e.PreviewChars
	if previewChars <= 0 {
		previewChars = 500
	}
	if len(preview) > previewChars {
		preview = preview[len(preview)-previewChars:]
	}

	text := fmt.Sprintf("%s\nFull output saved to artifact: %s (%d bytes)\nInspect with: cat %s | less\n",
		terminatedOutputMarker, artifact.Path, artifact.Size, artifact.Path)
	if head != "" {
		text += fmt.Sprintf("\n--- first %d characters ---\n%s\n", len(head), head)
	}
	text += fmt.Sprintf("\n--- last %d characters ---\n%s\n", len(preview), preview)

	// The replacement itself must respect the in-context cap.
	return e.truncate(text)
}

func (e *Externalizer) truncate(text string) string {
	if len(text) <= e.MaxResultChars {
		return text
	}
	suffix := "\n...[truncated]"
	cutoff := e.MaxResultChars - len(suffix)
	if cutoff < 0 {
		cutoff = 0
	}
	return text[:cutoff] + suffix
}
