// Package github provides a document loader sub-node reading the files of a GitHub repository.
package github

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/nodes"
	"github.com/dukex/capgraph/pkg/protocol"
)

const (
	NodeName       = "documentGithubLoader"
	CredentialType = "githubApi"
	DefaultBranch  = "main"
)

type Options struct {
	Recursive   bool   `mapstructure:"recursive"`
	IgnorePaths string `mapstructure:"ignorePaths"`
}

type Config struct {
	Repository        string  `mapstructure:"repository"`
	Branch            string  `mapstructure:"branch"`
	AdditionalOptions Options `mapstructure:"additionalOptions"`
}

type credential struct {
	AccessToken string `mapstructure:"accessToken"`
	Server      string `mapstructure:"server"`
}

// Node loads the repository files when supplied and hands them out as an ai_document.
type Node struct {
	httpClient *http.Client
}

func New() *Node {
	return &Node{}
}

func (n *Node) Description() models.NodeDescription {
	return models.NodeDescription{
		Name:        NodeName,
		DisplayName: "GitHub Document Loader",
		Description: "Use GitHub data as input to this chain",
		Categories:  []string{"AI", "Document Loaders"},
		Version:     1,
		Inputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiTextSplitter, models.PortDirectionInput, false, 1,
				models.WithDisplayName("Text Splitter")),
		},
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiDocument, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Document")),
		},
		Credentials: []models.CredentialRequirement{{Name: CredentialType, Required: true}},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repository": map[string]any{"type": "string", "minLength": 1},
				"branch":     map[string]any{"type": "string", "default": DefaultBranch},
				"additionalOptions": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"recursive": map[string]any{"type": "boolean", "default": false},
						"ignorePaths": map[string]any{
							"type":        "string",
							"description": `Comma-separated list of paths to ignore, e.g. "docs, src/tests"`,
						},
					},
				},
			},
			"required": []string{"repository"},
		},
	}
}

func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	logger := fns.Logger()
	logger.DebugContext(ctx, "Supplying data for GitHub document loader")

	config := Config{Branch: DefaultBranch}
	if err := fns.DecodeParameters(itemIndex, &config); err != nil {
		return nil, err
	}

	repo, err := ParseRepository(config.Repository)
	if err != nil {
		return nil, err
	}

	values, err := fns.Credentials(ctx, CredentialType)
	if err != nil {
		return nil, err
	}

	var cred credential
	if err := nodes.DecodeCredential(values, &cred); err != nil {
		return nil, err
	}

	splitter, _, err := protocol.Input[capability.TextSplitter](ctx, fns, string(models.ConnectionTypeAiTextSplitter), 0)
	if err != nil {
		return nil, err
	}

	fns.RecordInput(ctx, map[string]any{
		"repository":  config.Repository,
		"branch":      config.Branch,
		"recursive":   config.AdditionalOptions.Recursive,
		"ignorePaths": config.AdditionalOptions.IgnorePaths,
	})

	docs, err := n.load(ctx, newClient(cred.Server, cred.AccessToken, n.httpClient), repo, config)
	if err == nil && splitter != nil {
		docs, err = splitter.SplitDocuments(ctx, docs)
	}

	if err != nil {
		fns.RecordOutput(ctx, nil, err)

		return nil, err
	}

	fns.RecordOutput(ctx, map[string]any{"loadedDocs": docs}, nil)

	logger.DebugContext(ctx, "Loaded GitHub documents", "repository", config.Repository, "documents", len(docs))

	return &protocol.SupplyData{Response: capability.StaticDocuments(docs)}, nil
}

func (n *Node) load(ctx context.Context, c *client, repo Repository, config Config) ([]capability.Document, error) {
	paths, err := c.files(ctx, repo, config.Branch, config.AdditionalOptions.Recursive)
	if err != nil {
		return nil, err
	}

	ignore := splitIgnorePaths(config.AdditionalOptions.IgnorePaths)

	var docs []capability.Document

	for _, p := range paths {
		if ignored(p, ignore) {
			continue
		}

		text, err := c.content(ctx, repo, config.Branch, p)
		if err != nil {
			return nil, err
		}

		docs = append(docs, capability.Document{
			PageContent: text,
			Metadata: map[string]any{
				"source":     p,
				"repository": repo.Owner + "/" + repo.Name,
				"branch":     config.Branch,
			},
		})
	}

	return docs, nil
}

func splitIgnorePaths(value string) []string {
	var out []string

	for _, p := range strings.Split(value, ",") {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// ignored matches a file against directory prefixes and glob patterns.
func ignored(file string, patterns []string) bool {
	for _, pattern := range patterns {
		if file == pattern || strings.HasPrefix(file, pattern+"/") {
			return true
		}

		if ok, _ := path.Match(pattern, file); ok {
			return true
		}

		if ok, _ := path.Match(pattern, path.Base(file)); ok {
			return true
		}
	}

	return false
}
