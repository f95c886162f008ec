package trello

import (
	"context"
	"log/slog"
)

// Automation applies the configured board action when a linked branch's
// PR merges. Resolution is branch -> task link -> board -> merge
// action; any missing step means nothing is configured and nothing
// happens.
type Automation struct {
	loadCredentials func() (*Credentials, error)
	loadProject     func(projectPath string) (ProjectConfig, error)
	execute         func(ctx context.Context, creds Credentials, cardID string, action Action) error
}

func NewAutomation(store *ConfigStore) *Automation {
	return &Automation{
		loadCredentials: store.LoadCredentials,
		loadProject:     store.LoadProjectConfig,
		execute:         executeAction,
	}
}

// ApplyMergeAction runs the merge automation for one branch of one
// project. It returns the card id it acted on, or "" when no
// credentials, link, or action were configured.
func (a *Automation) ApplyMergeAction(ctx context.Context, projectPath, branch string) (string, error) {
	creds, err := a.loadCredentials()
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", nil
	}

	cfg, err := a.loadProject(projectPath)
	if err != nil {
		return "", err
	}
	cardID, action, ok := resolveMergeAction(cfg, branch)
	if !ok {
		return "", nil
	}

	if err := a.execute(ctx, *creds, cardID, action); err != nil {
		return "", err
	}
	return cardID, nil
}

func resolveMergeAction(cfg ProjectConfig, branch string) (string, Action, bool) {
	for _, link := range cfg.TaskLinks {
		if link.Branch != branch {
			continue
		}
		for _, board := range cfg.Boards {
			if board.BoardID == link.BoardID && board.MergeAction != nil {
				return link.CardID, *board.MergeAction, true
			}
		}
		return "", Action{}, false
	}
	return "", Action{}, false
}

// executeAction runs the action steps in order: move, add labels,
// remove labels. A failed step is logged and the rest still run; there
// is no rollback.
func executeAction(ctx context.Context, creds Credentials, cardID string, action Action) error {
	client := NewClient(creds)
	if action.MoveToColumnID != "" {
		if err := client.MoveCard(ctx, cardID, action.MoveToColumnID); err != nil {
			trelloLog.Warn("merge_action_move_failed",
				slog.String("card", cardID),
				slog.String("error", err.Error()))
		}
	}
	for _, labelID := range action.AddLabelIDs {
		if err := client.AddLabel(ctx, cardID, labelID); err != nil {
			trelloLog.Warn("merge_action_add_label_failed",
				slog.String("card", cardID),
				slog.String("label", labelID),
				slog.String("error", err.Error()))
		}
	}
	for _, labelID := range action.RemoveLabelIDs {
		if err := client.RemoveLabel(ctx, cardID, labelID); err != nil {
			trelloLog.Warn("merge_action_remove_label_failed",
				slog.String("card", cardID),
				slog.String("label", labelID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
