// Package trello talks to the Trello REST API and stores per-project
// board configuration, including the merge automation applied when a
// linked branch's PR merges.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/workdeck/workdeck/internal/logging"
)

var trelloLog = logging.ForComponent(logging.CompTrello)

const defaultBaseURL = "https://api.trello.com/1"

// Client is a thin wrapper over the Trello REST API. Auth rides along
// as key/token query parameters on every request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
}

func NewClient(creds Credentials) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		creds:      creds,
	}
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.creds.APIKey)
	query.Set("token", c.creds.Token)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trello %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("trello %s %s: reading body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("trello %s %s: %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("trello %s %s: decoding: %w", method, path, err)
	}
	return nil
}

// ValidateAuth reports whether the stored credentials are accepted.
func (c *Client) ValidateAuth(ctx context.Context) (bool, error) {
	err := c.request(ctx, http.MethodGet, "/members/me", nil, nil)
	if err == nil {
		return true, nil
	}
	if strings.Contains(err.Error(), ": 401:") {
		return false, nil
	}
	return false, err
}

// ListBoards returns the user's open boards, including boards visible
// through their workspaces, deduplicated and sorted by name.
func (c *Client) ListBoards(ctx context.Context) ([]Board, error) {
	query := url.Values{"fields": {"id,name,url"}, "filter": {"open"}}
	var boards []Board
	if err := c.request(ctx, http.MethodGet, "/members/me/boards", query, &boards); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(boards))
	for _, b := range boards {
		seen[b.ID] = true
	}

	var orgs []struct {
		ID string `json:"id"`
	}
	if err := c.request(ctx, http.MethodGet, "/members/me/organizations",
		url.Values{"fields": {"id"}}, &orgs); err != nil {
		orgs = nil
	}
	for _, org := range orgs {
		var orgBoards []Board
		err := c.request(ctx, http.MethodGet, "/organizations/"+org.ID+"/boards",
			url.Values{"fields": {"id,name,url"}, "filter": {"open"}}, &orgBoards)
		if err != nil {
			continue
		}
		for _, b := range orgBoards {
			if !seen[b.ID] {
				seen[b.ID] = true
				boards = append(boards, b)
			}
		}
	}

	sort.Slice(boards, func(i, j int) bool {
		return strings.ToLower(boards[i].Name) < strings.ToLower(boards[j].Name)
	})
	return boards, nil
}

// ListColumns returns a board's open lists.
func (c *Client) ListColumns(ctx context.Context, boardID string) ([]List, error) {
	query := url.Values{"fields": {"id,name,pos"}, "filter": {"open"}}
	var lists []List
	if err := c.request(ctx, http.MethodGet, "/boards/"+boardID+"/lists", query, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// ListCards returns the cards of one list.
func (c *Client) ListCards(ctx context.Context, listID string) ([]Card, error) {
	query := url.Values{"fields": {"id,name,desc,idList,url,labels,pos,due"}}
	var cards []Card
	if err := c.request(ctx, http.MethodGet, "/lists/"+listID+"/cards", query, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// ListLabels returns a board's labels.
func (c *Client) ListLabels(ctx context.Context, boardID string) ([]Label, error) {
	var labels []Label
	if err := c.request(ctx, http.MethodGet, "/boards/"+boardID+"/labels", nil, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// CreateCard adds a card to a list.
func (c *Client) CreateCard(ctx context.Context, listID, name, desc string) (Card, error) {
	query := url.Values{"idList": {listID}, "name": {name}}
	if desc != "" {
		query.Set("desc", desc)
	}
	var card Card
	if err := c.request(ctx, http.MethodPost, "/cards", query, &card); err != nil {
		return Card{}, err
	}
	return card, nil
}

// MoveCard moves a card to another list.
func (c *Client) MoveCard(ctx context.Context, cardID, listID string) error {
	return c.request(ctx, http.MethodPut, "/cards/"+cardID, url.Values{"idList": {listID}}, nil)
}

// AddLabel attaches a board label to a card.
func (c *Client) AddLabel(ctx context.Context, cardID, labelID string) error {
	return c.request(ctx, http.MethodPost, "/cards/"+cardID+"/idLabels",
		url.Values{"value": {labelID}}, nil)
}

// RemoveLabel detaches a label from a card.
func (c *Client) RemoveLabel(ctx context.Context, cardID, labelID string) error {
	return c.request(ctx, http.MethodDelete, "/cards/"+cardID+"/idLabels/"+labelID, nil, nil)
}

// BoardData fetches a board with the cards of every non-hidden column.
func (c *Client) BoardData(ctx context.Context, boardID string, hiddenColumns []string) (BoardData, error) {
	var board Board
	if err := c.request(ctx, http.MethodGet, "/boards/"+boardID,
		url.Values{"fields": {"id,name,url"}}, &board); err != nil {
		return BoardData{}, err
	}

	columns, err := c.ListColumns(ctx, boardID)
	if err != nil {
		return BoardData{}, err
	}

	hidden := make(map[string]bool, len(hiddenColumns))
	for _, id := range hiddenColumns {
		hidden[id] = true
	}

	data := BoardData{Board: board}
	for _, col := range columns {
		if hidden[col.ID] {
			continue
		}
		cards, err := c.ListCards(ctx, col.ID)
		if err != nil {
			return BoardData{}, err
		}
		data.Columns = append(data.Columns, ColumnData{Column: col, Cards: cards})
	}
	return data, nil
}
