package trello

// Credentials is the API key/token pair Trello hands out per user.
type Credentials struct {
	APIKey string `json:"apiKey"`
	Token  string `json:"token"`
}

// Board is one Trello board, as the API reports it.
type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// List is one column on a board.
type List struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Pos  float64 `json:"pos"`
}

// Label is one board label.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Card is one Trello card.
type Card struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Desc   string  `json:"desc"`
	IDList string  `json:"idList"`
	URL    string  `json:"url"`
	Labels []Label `json:"labels"`
	Pos    float64 `json:"pos"`
	Due    string  `json:"due,omitempty"`
}

// BoardData is a board with its visible columns and their cards.
type BoardData struct {
	Board   Board        `json:"board"`
	Columns []ColumnData `json:"columns"`
}

// ColumnData pairs a column with its cards.
type ColumnData struct {
	Column List   `json:"column"`
	Cards  []Card `json:"cards"`
}

// Action describes what to do to a card on some trigger: optionally
// move it, then add and remove labels.
type Action struct {
	MoveToColumnID   string   `json:"moveToColumnId,omitempty"`
	MoveToColumnName string   `json:"moveToColumnName,omitempty"`
	AddLabelIDs      []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs   []string `json:"removeLabelIds,omitempty"`
}

// BoardConfig is the per-board configuration stored for a project.
type BoardConfig struct {
	BoardID       string   `json:"boardId"`
	BoardName     string   `json:"boardName"`
	HiddenColumns []string `json:"hiddenColumns,omitempty"`
	LinkAction    *Action  `json:"linkAction,omitempty"`
	MergeAction   *Action  `json:"mergeAction,omitempty"`
}

// TaskLink binds a card to a branch of a project.
type TaskLink struct {
	CardID       string `json:"cardId"`
	BoardID      string `json:"boardId"`
	Branch       string `json:"branch"`
	WorktreePath string `json:"worktreePath,omitempty"`
	ProjectPath  string `json:"projectPath"`
}

// ProjectConfig is everything Trello-related stored for one project.
type ProjectConfig struct {
	Boards    []BoardConfig `json:"boards"`
	TaskLinks []TaskLink    `json:"taskLinks"`
}
