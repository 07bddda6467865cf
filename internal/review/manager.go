package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/engine"
	"github.com/JaimeStill/conveyor/pkg/pagination"
)

// resumeStageTag tags the serialized state handed back to a resumed
// execution.
const resumeStageTag = "resume"

// Manager coordinates human review suspensions. It issues continuation
// tokens when an execution suspends, resolves section and page tokens as
// reviewers work, and signals the workflow engine exactly once when the
// last pending section concludes.
type Manager struct {
	store  docstore.System
	tokens Store
	engine engine.System
	codec  *codec.Codec
	ttl    time.Duration
	logger *slog.Logger
}

// NewManager creates a review Manager. A zero ttl issues tokens without
// an expiry window.
func NewManager(
	store docstore.System,
	tokens Store,
	eng engine.System,
	cdc *codec.Codec,
	ttl time.Duration,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:  store,
		tokens: tokens,
		engine: eng,
		codec:  cdc,
		ttl:    ttl,
		logger: logger.With("system", "review"),
	}
}

// Suspend records a review suspension: the execution's continuation
// token plus one section token and per-page tokens for every pending
// section. The document moves to PENDING_REVIEW. continuationToken is
// the string the engine parks the execution on.
func (m *Manager) Suspend(ctx context.Context, documentID, executionID, continuationToken string) error {
	now := time.Now().UTC()

	doc, err := m.store.Mutate(ctx, documentID, func(doc *document.Document) error {
		if len(doc.HitlSectionsPending) == 0 {
			return fmt.Errorf("%w: %s has no pending sections", ErrNotPendingReview, documentID)
		}
		doc.Status = document.StatusPendingReview
		return nil
	})
	if err != nil {
		return err
	}

	var expires *time.Time
	if m.ttl > 0 {
		t := now.Add(m.ttl)
		expires = &t
	}

	tokens := []Token{{
		ID:          continuationToken,
		DocumentID:  documentID,
		ExecutionID: executionID,
		Kind:        KindDocument,
		Status:      StatusWaiting,
		IssuedAt:    now,
		ExpiresAt:   expires,
	}}

	for _, sectionID := range doc.HitlSectionsPending {
		section, err := doc.Section(sectionID)
		if err != nil {
			return err
		}

		tokens = append(tokens, Token{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			ExecutionID: executionID,
			Kind:        KindSection,
			SectionID:   sectionID,
			Status:      StatusWaiting,
			IssuedAt:    now,
			ExpiresAt:   expires,
		})

		for _, pid := range section.PageIDs {
			page := pid
			tokens = append(tokens, Token{
				ID:          uuid.NewString(),
				DocumentID:  documentID,
				ExecutionID: executionID,
				Kind:        KindPage,
				SectionID:   sectionID,
				PageID:      &page,
				Status:      StatusWaiting,
				IssuedAt:    now,
				ExpiresAt:   expires,
			})
		}
	}

	if err := m.tokens.Issue(ctx, tokens); err != nil {
		return err
	}

	m.logger.Info(
		"execution suspended for review",
		"document", documentID,
		"execution", executionID,
		"pending_sections", len(doc.HitlSectionsPending),
	)
	return nil
}

// SectionEdit carries a reviewer's corrections for the resolved token's
// section. Zero fields leave the stored values untouched; Attributes
// entries overwrite per key.
type SectionEdit struct {
	Classification string            `json:"classification,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// Resolve settles one section or page token on behalf of a reviewer,
// persisting any section edit the reviewer supplied. Page tokens
// complete their section once every sibling page token is resolved;
// section tokens complete immediately and sweep their page tokens. When
// the last pending section completes, the suspended execution is
// signalled to resume carrying the edited document.
func (m *Manager) Resolve(ctx context.Context, tokenID, reviewer string, edit *SectionEdit) error {
	token, err := m.tokens.Resolve(ctx, tokenID, reviewer)
	if err != nil {
		return err
	}

	if edit != nil && token.Kind != KindDocument {
		if err := m.applyEdit(ctx, token, edit); err != nil {
			return err
		}
	}

	switch token.Kind {
	case KindPage:
		waiting, err := m.tokens.CountWaiting(ctx, token.DocumentID, token.SectionID, KindPage)
		if err != nil {
			return err
		}
		if waiting > 0 {
			m.logger.Debug(
				"page review resolved",
				"document", token.DocumentID,
				"section", token.SectionID,
				"page", token.PageID,
				"remaining", waiting,
			)
			return nil
		}
		// Last page of the section: sweep the section token too.
		if err := m.tokens.ResolveSectionTokens(ctx, token.DocumentID, token.SectionID, reviewer); err != nil {
			return err
		}
		return m.completeSection(ctx, token.DocumentID, token.SectionID)

	case KindSection:
		if err := m.tokens.ResolveSectionTokens(ctx, token.DocumentID, token.SectionID, reviewer); err != nil {
			return err
		}
		return m.completeSection(ctx, token.DocumentID, token.SectionID)

	case KindDocument:
		return fmt.Errorf("%w: %s", ErrDocumentScoped, tokenID)

	default:
		return fmt.Errorf("unknown token kind %q", token.Kind)
	}
}

// Skip administratively concludes a pending review without reviewer
// input. Every waiting token resolves, the document's review state
// becomes Skipped, and the suspended execution resumes.
func (m *Manager) Skip(ctx context.Context, documentID, operator string) error {
	doc, err := m.store.Mutate(ctx, documentID, func(doc *document.Document) error {
		if doc.HitlStatus != document.HitlPendingReview {
			return fmt.Errorf("%w: %s", ErrNotPendingReview, documentID)
		}
		doc.HitlStatus = document.HitlSkipped
		doc.HitlSectionsPending = nil
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.tokens.ResolveAllWaiting(ctx, documentID, operator); err != nil {
		return err
	}

	m.logger.Info("review skipped", "document", documentID, "operator", operator)
	return m.resume(ctx, doc)
}

// List returns every token issued for a document, newest first.
func (m *Manager) List(ctx context.Context, documentID string) ([]Token, error) {
	return m.tokens.ListByDocument(ctx, documentID)
}

// ListWaiting returns a page of the reviewer work queue: waiting section
// and page tokens across all documents, oldest first.
func (m *Manager) ListWaiting(ctx context.Context, page pagination.PageRequest) (*pagination.PageResult[Token], error) {
	return m.tokens.ListWaiting(ctx, page)
}

// applyEdit writes the reviewer's corrections into the token's section.
// Edits land in the store before the last token can trigger the resume
// serialization, so the resumed execution carries them forward.
func (m *Manager) applyEdit(ctx context.Context, token *Token, edit *SectionEdit) error {
	_, err := m.store.Mutate(ctx, token.DocumentID, func(doc *document.Document) error {
		for i := range doc.Sections {
			if doc.Sections[i].ID != token.SectionID {
				continue
			}
			if edit.Classification != "" {
				doc.Sections[i].Classification = edit.Classification
			}
			if len(edit.Attributes) > 0 {
				if doc.Sections[i].Attributes == nil {
					doc.Sections[i].Attributes = make(map[string]string, len(edit.Attributes))
				}
				for k, v := range edit.Attributes {
					doc.Sections[i].Attributes[k] = v
				}
			}
			return nil
		}
		return fmt.Errorf("%w: %s", document.ErrSectionNotFound, token.SectionID)
	})
	return err
}

// completeSection moves one section from pending to completed review and
// resumes the execution when no pending sections remain.
func (m *Manager) completeSection(ctx context.Context, documentID, sectionID string) error {
	doc, err := m.store.Mutate(ctx, documentID, func(doc *document.Document) error {
		pending := doc.HitlSectionsPending[:0]
		found := false
		for _, id := range doc.HitlSectionsPending {
			if id == sectionID {
				found = true
				continue
			}
			pending = append(pending, id)
		}
		if !found {
			return fmt.Errorf("%w: section %s not pending", ErrNotPendingReview, sectionID)
		}

		doc.HitlSectionsPending = pending
		doc.HitlSectionsCompleted = append(doc.HitlSectionsCompleted, sectionID)

		for i := range doc.HitlMetadata {
			if doc.HitlMetadata[i].SectionID == sectionID && !doc.HitlMetadata[i].Completed {
				doc.HitlMetadata[i].Completed = true
			}
		}

		if len(doc.HitlSectionsPending) == 0 {
			doc.HitlStatus = document.HitlCompleted
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info(
		"section review completed",
		"document", documentID,
		"section", sectionID,
		"remaining", len(doc.HitlSectionsPending),
	)

	if len(doc.HitlSectionsPending) > 0 {
		return nil
	}
	return m.resume(ctx, doc)
}

// resume resolves the document continuation token and signals the
// engine. The token resolution is the exactly-once gate: a concurrent
// resumer loses the conditional update and stops here.
func (m *Manager) resume(ctx context.Context, doc *document.Document) error {
	token, err := m.tokens.DocumentToken(ctx, doc.ID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			m.logger.Warn("no waiting continuation token", "document", doc.ID)
			return nil
		}
		return err
	}

	if _, err := m.tokens.Resolve(ctx, token.ID, "system:resume"); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			return nil
		}
		return err
	}

	env, err := m.codec.Serialize(ctx, doc, resumeStageTag)
	if err != nil {
		return err
	}

	if err := m.engine.Signal(ctx, token.ID, env); err != nil {
		if errors.Is(err, engine.ErrNotSuspended) || errors.Is(err, engine.ErrExecutionNotFound) {
			m.logger.Warn(
				"execution no longer suspended",
				"document", doc.ID,
				"token", token.ID,
			)
			return nil
		}
		return fmt.Errorf("signal execution for %s: %w", doc.ID, err)
	}

	m.logger.Info("execution resumed", "document", doc.ID, "execution", token.ExecutionID)
	return nil
}
