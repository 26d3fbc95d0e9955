package device

import (
	"log/slog"

	"github.com/jnoelg/watchbridge/internal/storage"
)

// MessageStore persists outbound messages and their outcome.
// Implemented by storage.Store.
type MessageStore interface {
	RecordMessage(m storage.MessageRecord) error
	UpdateMessageStatus(id, status, errMsg string) error
}

// Journal is a Channel that records every message and its outcome before
// handing it to the wrapped channel. Recording failures are logged and never
// prevent delivery.
type Journal struct {
	next   Channel
	store  MessageStore
	logger *slog.Logger
}

// NewJournal wraps next.
func NewJournal(next Channel, store MessageStore) *Journal {
	return &Journal{next: next, store: store, logger: slog.Default()}
}

func (j *Journal) Send(msg Message, onAck func(), onFail func(error)) {
	rec := storage.MessageRecord{
		ID:      msg.ID,
		FlowID:  msg.FlowID,
		Payload: msg.PayloadJSON(),
		Status:  storage.StatusPending,
	}
	if err := j.store.RecordMessage(rec); err != nil {
		j.logger.Warn("failed to record device message", "id", msg.ID, "error", err)
	}

	j.next.Send(msg,
		func() {
			j.update(msg.ID, storage.StatusAcked, "")
			onAck()
		},
		func(err error) {
			j.update(msg.ID, storage.StatusFailed, err.Error())
			onFail(err)
		},
	)
}

func (j *Journal) update(id, status, errMsg string) {
	if err := j.store.UpdateMessageStatus(id, status, errMsg); err != nil {
		j.logger.Warn("failed to update device message status", "id", id, "status", status, "error", err)
	}
}
