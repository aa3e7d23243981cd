// Package store owns all durable state for threads: finalized messages, the
// per-agent buffer of in-flight parts, and a live broadcast channel per
// thread. Every other component reads and writes through it.
package store

import (
	"context"
	"fmt"

	"github.com/habiliai/parley/entity"
	myerrors "github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/internal/db"
	"github.com/habiliai/parley/internal/mylog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type (
	Store interface {
		ReadMessages(ctx context.Context, threadID string) ([]entity.Message, error)
		// WriteMessages replaces the thread's full message list, ordered by
		// position in slice order.
		WriteMessages(ctx context.Context, threadID string, messages []entity.Message) error

		ReadParts(ctx context.Context, threadID string) ([]entity.Part, error)
		// ReadAgentParts returns the buffer scoped to one agent's turn.
		ReadAgentParts(ctx context.Context, threadID string, agentID string) ([]entity.Part, error)
		// AppendPart persists the part with the next position for the thread
		// and broadcasts it to subscribers.
		AppendPart(ctx context.Context, threadID string, part entity.Part) (entity.Part, error)
		TruncateParts(ctx context.Context, threadID string) error
		TruncateAgentParts(ctx context.Context, threadID string, agentID string) error

		// PublishPart broadcasts without persisting. Used for ephemeral
		// human-input echo so the UI sees it without double-storing it.
		PublishPart(ctx context.Context, threadID string, part entity.Part)
		// Subscribe delivers every part appended to the thread from the
		// moment of subscription onward. No replay; combine with ReadParts
		// for history. The stream closes when ctx is cancelled.
		Subscribe(ctx context.Context, threadID string) <-chan entity.Part

		// GetTypingAgents returns agents with buffered parts whose turn has
		// not reached a terminal text-end part yet.
		GetTypingAgents(ctx context.Context, threadID string) ([]string, error)

		ListThreads(ctx context.Context) ([]entity.Thread, error)
		DeleteThread(ctx context.Context, threadID string) error
	}

	store struct {
		logger *mylog.Logger
		db     *gorm.DB
		hub    *hub
	}
)

var _ Store = (*store)(nil)

// NewStore opens the SQLite database at dbPath, applies pending migrations
// and returns the shared store.
func NewStore(dbPath string, logger *mylog.Logger) (Store, error) {
	gormDB, err := db.OpenDB(dbPath)
	if err != nil {
		return nil, storeError(err, "failed to open database")
	}

	if err := db.Migrate(gormDB, logger); err != nil {
		return nil, storeError(err, "failed to migrate database")
	}

	return &store{
		logger: logger,
		db:     gormDB,
		hub:    newHub(),
	}, nil
}

// NewStoreFromDB wraps an already opened and migrated database handle.
func NewStoreFromDB(gormDB *gorm.DB, logger *mylog.Logger) Store {
	return &store{
		logger: logger,
		db:     gormDB,
		hub:    newHub(),
	}
}

// storeError tags err as a persistence failure so callers can detect the
// whole class with errors.Is(err, errors.ErrStore).
func storeError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), myerrors.ErrStore, err)
}

func (s *store) ReadMessages(ctx context.Context, threadID string) ([]entity.Message, error) {
	var messages []entity.Message
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("position ASC").
		Find(&messages).Error; err != nil {
		return nil, storeError(err, "failed to read messages of thread %s", threadID)
	}

	return messages, nil
}

func (s *store) WriteMessages(ctx context.Context, threadID string, messages []entity.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureThread(tx, threadID); err != nil {
			return err
		}

		if err := tx.Where("thread_id = ?", threadID).Delete(&entity.Message{}).Error; err != nil {
			return err
		}

		for i := range messages {
			msg := messages[i]
			msg.ID = 0
			msg.ThreadID = threadID
			msg.Position = int64(i)
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
		}

		return nil
	})

	return storeError(err, "failed to write messages of thread %s", threadID)
}

func (s *store) ReadParts(ctx context.Context, threadID string) ([]entity.Part, error) {
	var parts []entity.Part
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("position ASC").
		Find(&parts).Error; err != nil {
		return nil, storeError(err, "failed to read parts of thread %s", threadID)
	}

	return parts, nil
}

func (s *store) ReadAgentParts(ctx context.Context, threadID string, agentID string) ([]entity.Part, error) {
	var parts []entity.Part
	if err := s.db.WithContext(ctx).
		Where("thread_id = ? AND sender = ?", threadID, agentID).
		Order("position ASC").
		Find(&parts).Error; err != nil {
		return nil, storeError(err, "failed to read parts of agent %s in thread %s", agentID, threadID)
	}

	return parts, nil
}

func (s *store) AppendPart(ctx context.Context, threadID string, part entity.Part) (entity.Part, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureThread(tx, threadID); err != nil {
			return err
		}

		// The position read and the insert share one write transaction so
		// concurrent appenders to the same thread never collide on position.
		var next int64
		if err := tx.Raw(
			"SELECT COALESCE(MAX(position), -1) + 1 FROM parts WHERE thread_id = ?", threadID,
		).Scan(&next).Error; err != nil {
			return err
		}

		part.ID = 0
		part.ThreadID = threadID
		part.Position = next

		return tx.Create(&part).Error
	})
	if err != nil {
		return entity.Part{}, storeError(err, "failed to append part to thread %s", threadID)
	}

	s.hub.publish(threadID, part)

	return part, nil
}

func (s *store) TruncateParts(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Delete(&entity.Part{}).Error
	return storeError(err, "failed to truncate parts of thread %s", threadID)
}

func (s *store) TruncateAgentParts(ctx context.Context, threadID string, agentID string) error {
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND sender = ?", threadID, agentID).
		Delete(&entity.Part{}).Error
	return storeError(err, "failed to truncate parts of agent %s in thread %s", agentID, threadID)
}

func (s *store) PublishPart(ctx context.Context, threadID string, part entity.Part) {
	part.ThreadID = threadID
	s.hub.publish(threadID, part)
}

func (s *store) Subscribe(ctx context.Context, threadID string) <-chan entity.Part {
	return s.hub.subscribe(ctx, threadID)
}

func (s *store) GetTypingAgents(ctx context.Context, threadID string) ([]string, error) {
	parts, err := s.ReadParts(ctx, threadID)
	if err != nil {
		return nil, err
	}

	lastType := make(map[string]entity.PartType)
	var order []string
	for _, part := range parts {
		if part.Sender == "" || !part.IsModelOutput() {
			continue
		}
		if _, ok := lastType[part.Sender]; !ok {
			order = append(order, part.Sender)
		}
		lastType[part.Sender] = part.Type
	}

	var typing []string
	for _, agentID := range order {
		if lastType[agentID] != entity.PartTextEnd {
			typing = append(typing, agentID)
		}
	}

	return typing, nil
}

func (s *store) ListThreads(ctx context.Context) ([]entity.Thread, error) {
	var threads []entity.Thread
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&threads).Error; err != nil {
		return nil, storeError(err, "failed to list threads")
	}

	return threads, nil
}

func (s *store) DeleteThread(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Delete(&entity.Part{}).Error; err != nil {
			return err
		}
		if err := tx.Where("thread_id = ?", threadID).Delete(&entity.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("thread_id = ?", threadID).Delete(&entity.Thread{}).Error
	})

	return storeError(err, "failed to delete thread %s", threadID)
}

// ensureThread creates the thread row on first write.
func ensureThread(tx *gorm.DB, threadID string) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity.Thread{ThreadID: threadID}).Error
}
