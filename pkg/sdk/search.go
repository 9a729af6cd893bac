package sdk

import (
	"context"
	"net/http"
)

// Search runs a hybrid retrieval query against an indexed snapshot.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
