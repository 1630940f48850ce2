package messages

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

func TestMessagesAreTeaMessages(t *testing.T) {
	var msgs []tea.Msg
	msgs = append(msgs,
		ProgressUpdated{Progress: domain.TransformProgress{Total: 3, Processed: 1}},
		RunFinished{Err: errors.New("boom")},
	)

	assert.Len(t, msgs, 2)
	update, ok := msgs[0].(ProgressUpdated)
	assert.True(t, ok)
	assert.Equal(t, 3, update.Progress.Total)
}
