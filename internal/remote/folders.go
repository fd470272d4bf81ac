package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
)

func (c *Client) CreateFolder(ctx context.Context, s *Session, name string) (*Folder, error) {
	return c.saveFolder(ctx, s, http.MethodPost, c.apiURL+"/folders", name)
}

func (c *Client) RenameFolder(ctx context.Context, s *Session, folderID, name string) (*Folder, error) {
	return c.saveFolder(ctx, s, http.MethodPut, c.apiURL+"/folders/"+url.PathEscape(folderID), name)
}

// DeleteFolder removes a folder; the server moves its ciphers to no folder.
func (c *Client) DeleteFolder(ctx context.Context, s *Session, folderID string) error {
	req := request{method: http.MethodDelete, url: c.apiURL + "/folders/" + url.PathEscape(folderID)}
	if err := c.authed(ctx, s, req, nil); err != nil && statusOf(err) != http.StatusNotFound {
		return fmt.Errorf("delete folder %s: %w", folderID, err)
	}
	return nil
}

func (c *Client) saveFolder(ctx context.Context, s *Session, method, target, name string) (*Folder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: folder name required", common.ErrInvalidArgument)
	}
	sealed, err := cryptox.EncryptString(name, s.Key)
	if err != nil {
		return nil, err
	}
	req, err := jsonRequest(method, target, folderRequest{Name: sealed})
	if err != nil {
		return nil, err
	}
	var resp folderResponse
	if err := c.authed(ctx, s, req, &resp); err != nil {
		return nil, fmt.Errorf("%s folder: %w", method, err)
	}
	return &Folder{ID: resp.ID, Name: name, Revision: resp.RevisionDate}, nil
}

func decryptFolder(f folderResponse, key *cryptox.SymmetricKey) (Folder, error) {
	name, err := cryptox.DecryptString(f.Name, key)
	if err != nil {
		return Folder{}, err
	}
	return Folder{ID: f.ID, Name: name, Revision: f.RevisionDate}, nil
}
