package sync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listFilesQuery = `
query listFiles($first: Int!, $after: String) {
  files(first: $first, after: $after) {
    nodes {
      __typename
      id
      alt
      fileStatus
      ... on GenericFile { url }
      ... on MediaImage { image { url } }
      ... on Video { originalSource { url } }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const findFileByNameQuery = `
query findFile($query: String!) {
  files(first: 1, query: $query) {
    nodes {
      __typename
      id
      alt
      fileStatus
      ... on GenericFile { url }
      ... on MediaImage { image { url } }
      ... on Video { originalSource { url } }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const fileCreateMutation = `
mutation fileCreate($files: [FileCreateInput!]!) {
  fileCreate(files: $files) {
    files { id fileStatus }
    userErrors { code field message }
  }
}`

const fileStatusQuery = `
query fileStatus($id: ID!) {
  node(id: $id) {
    ... on GenericFile { fileStatus }
    ... on MediaImage { fileStatus }
    ... on Video { fileStatus }
  }
}`

// Asset processing on the destination shop is asynchronous. The poll is
// bounded: constant interval, fixed attempt count, then the item fails with
// a TIMEOUT marker instead of blocking the batch.
const (
	fileStatusPollInterval = 3 * time.Second
	fileStatusMaxRetries   = 20
)

var errFileStillProcessing = errors.New("file still processing")

type fileNode struct {
	Typename   string  `json:"__typename"`
	ID         string  `json:"id"`
	Alt        *string `json:"alt"`
	FileStatus string  `json:"fileStatus"`
	URL        string  `json:"url"`
	Image      *struct {
		URL string `json:"url"`
	} `json:"image"`
	OriginalSource *struct {
		URL string `json:"url"`
	} `json:"originalSource"`
}

func (f fileNode) sourceURL() string {
	switch {
	case f.URL != "":
		return f.URL
	case f.Image != nil:
		return f.Image.URL
	case f.OriginalSource != nil:
		return f.OriginalSource.URL
	}
	return ""
}

func (f fileNode) contentType() string {
	switch f.Typename {
	case "MediaImage":
		return "IMAGE"
	case "Video":
		return "VIDEO"
	default:
		return "FILE"
	}
}

func fileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func fetchAllFiles(ctx context.Context, client *shopify.Client) ([]fileNode, error) {
	var files []fileNode
	var after any
	for {
		var resp struct {
			Files struct {
				Nodes    []fileNode       `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"files"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listFilesQuery, vars, &resp); err != nil {
			return nil, err
		}
		files = append(files, resp.Files.Nodes...)
		if !resp.Files.PageInfo.HasNextPage {
			return files, nil
		}
		after = resp.Files.PageInfo.EndCursor
	}
}

// SyncFiles copies files and media by re-uploading each production asset
// from its CDN url. Matching is by filename: the destination reports an
// existing filename as a duplicate error, which counts as skipped.
func SyncFiles(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production files")
	production, err := fetchAllFiles(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production files: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d files in production", len(production)))

	rec.Stage(StageProcessingItems, "syncing files")
	for _, file := range production {
		source := file.sourceURL()
		name := fileName(source)
		label := fmt.Sprintf("file %q", name)
		if source == "" {
			rec.Skipped(fmt.Sprintf("file %s", file.ID), "no downloadable source url")
			continue
		}
		if name == "" {
			rec.Skipped(fmt.Sprintf("file %s", file.ID), "cannot determine filename")
			continue
		}

		input := map[string]any{
			"originalSource": source,
			"contentType":    file.contentType(),
			"filename":       name,
		}
		if file.Alt != nil {
			input["alt"] = *file.Alt
		}

		created, merr := createFile(ctx, deps.Staging, input)
		if merr != nil {
			var uerr *shopify.UserErrorsError
			if errors.As(merr, &uerr) && uerr.IsDuplicate() {
				// The asset is already there; recover its id so references
				// to this file can still translate.
				if existing, lerr := findStagingFile(ctx, deps.Staging, name); lerr == nil && existing != nil {
					saveFileMapping(ctx, deps, rec, file, existing.ID, name, label)
				}
				rec.Skipped(label, "filename already exists in staging")
				continue
			}
			rec.Failed(label, merr)
			continue
		}

		if perr := waitForFileReady(ctx, deps.Staging, created.ID); perr != nil {
			if errors.Is(perr, errFileStillProcessing) {
				rec.Failed(label, fmt.Errorf("processing did not finish (status TIMEOUT)"))
			} else {
				rec.Failed(label, perr)
			}
			continue
		}

		saveFileMapping(ctx, deps, rec, file, created.ID, name, label)
		rec.Created(label)
	}
	return nil
}

func saveFileMapping(ctx context.Context, deps Deps, rec *Recorder, production fileNode, stagingGID, name, label string) {
	input := mapping.SaveMappingInput{
		ProductionID:  shopify.ExtractID(production.ID),
		StagingID:     shopify.ExtractID(stagingGID),
		ProductionGID: production.ID,
		StagingGID:    stagingGID,
		MatchKey:      "filename",
		MatchValue:    name,
		Title:         name,
	}
	if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "file", input); err != nil {
		rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
	}
}

func createFile(ctx context.Context, client *shopify.Client, input map[string]any) (fileNode, error) {
	var resp struct {
		FileCreate struct {
			Files      []fileNode          `json:"files"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"fileCreate"`
	}
	if err := client.Query(ctx, fileCreateMutation, map[string]any{"files": []map[string]any{input}}, &resp); err != nil {
		return fileNode{}, err
	}
	if err := shopify.UserErrorsToError(resp.FileCreate.UserErrors); err != nil {
		return fileNode{}, err
	}
	if len(resp.FileCreate.Files) == 0 {
		return fileNode{}, fmt.Errorf("fileCreate returned no file")
	}
	return resp.FileCreate.Files[0], nil
}

func findStagingFile(ctx context.Context, client *shopify.Client, name string) (*fileNode, error) {
	var resp struct {
		Files struct {
			Nodes []fileNode `json:"nodes"`
		} `json:"files"`
	}
	vars := map[string]any{"query": fmt.Sprintf("filename:'%s'", name)}
	if err := client.Query(ctx, findFileByNameQuery, vars, &resp); err != nil {
		return nil, err
	}
	if len(resp.Files.Nodes) == 0 {
		return nil, nil
	}
	return &resp.Files.Nodes[0], nil
}

func waitForFileReady(ctx context.Context, client *shopify.Client, id string) error {
	backoff := retry.WithMaxRetries(fileStatusMaxRetries, retry.NewConstant(fileStatusPollInterval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var resp struct {
			Node *struct {
				FileStatus string `json:"fileStatus"`
			} `json:"node"`
		}
		if err := client.Query(ctx, fileStatusQuery, map[string]any{"id": id}, &resp); err != nil {
			return err
		}
		if resp.Node == nil {
			return fmt.Errorf("file %s not found while polling status", id)
		}
		switch resp.Node.FileStatus {
		case "READY":
			return nil
		case "FAILED":
			return fmt.Errorf("processing failed on the staging shop")
		default:
			return retry.RetryableError(errFileStillProcessing)
		}
	})
}
