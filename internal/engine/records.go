package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/replica"
)

// TransactionInput is the user editable part of a transaction.
type TransactionInput struct {
	Amount        decimal.Decimal        `json:"amount"`
	Currency      domain.Currency        `json:"currency"`
	Type          domain.TransactionType `json:"type"`
	TagIDs        []string               `json:"tagIds"`
	NewTags       []string               `json:"newTags,omitempty"`
	Note          string                 `json:"note"`
	DateTime      time.Time              `json:"dateTime"`
	Repeating     domain.Repeating       `json:"repeating"`
	AttachedFiles []string               `json:"attachedFiles,omitempty"`
}

func (in TransactionInput) validate() error {
	switch {
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	case !in.Currency.Valid():
		return fmt.Errorf("%w: unsupported currency %q", ErrInvalidInput, in.Currency)
	case !in.Type.Valid():
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, in.Type)
	case in.Repeating != "" && !in.Repeating.Valid():
		return fmt.Errorf("%w: %q", domain.ErrUnknownRepeating, in.Repeating)
	}
	return nil
}

// AddTransaction creates a transaction and the new tags it references.
func (e *Engine) AddTransaction(ctx context.Context, in TransactionInput) (domain.Transaction, error) {
	tx, err := e.buildTransaction(ctx, e.newID(), in, nil)
	if err != nil {
		return domain.Transaction{}, e.record(fmt.Errorf("AddTransaction: %w", err))
	}
	e.log.Info().Str("id", tx.ID).Msg("Transaction added")
	return tx, nil
}

// UpdateTransaction replaces the editable fields of transaction id.
func (e *Engine) UpdateTransaction(ctx context.Context, id string, in TransactionInput) (domain.Transaction, error) {
	s, err := e.session()
	if err != nil {
		return domain.Transaction{}, e.record(fmt.Errorf("UpdateTransaction: %w", err))
	}
	existing, ok := s.Transactions[id]
	if !ok {
		return domain.Transaction{}, e.record(fmt.Errorf("UpdateTransaction: transaction %s: %w", id, ErrNotFound))
	}
	tx, err := e.buildTransaction(ctx, id, in, &existing)
	if err != nil {
		return domain.Transaction{}, e.record(fmt.Errorf("UpdateTransaction: %w", err))
	}
	return tx, nil
}

func (e *Engine) buildTransaction(ctx context.Context, id string, in TransactionInput, existing *domain.Transaction) (domain.Transaction, error) {
	s, err := e.session()
	if err != nil {
		return domain.Transaction{}, err
	}
	profile, ok := s.CurrentProfile()
	if !ok || profile.Settings.MainCurrency == "" || len(profile.ExchangeRates.Rates) == 0 {
		return domain.Transaction{}, domain.ErrUserDataNotLoaded
	}
	if err := in.validate(); err != nil {
		return domain.Transaction{}, err
	}
	rate, err := domain.ComputeExchangeRate(profile.ExchangeRates.Rates, in.Currency, profile.Settings.MainCurrency)
	if err != nil {
		return domain.Transaction{}, err
	}

	tagIDs := slices.Clone(in.TagIDs)
	for _, tagID := range tagIDs {
		if _, ok := s.Tags[tagID]; !ok {
			return domain.Transaction{}, fmt.Errorf("tag %s: %w", tagID, ErrNotFound)
		}
	}
	newTags, newIDs := e.tagsFor(s, in.NewTags)
	for _, tagID := range newIDs {
		if !slices.Contains(tagIDs, tagID) {
			tagIDs = append(tagIDs, tagID)
		}
	}

	repeating := in.Repeating
	if repeating == "" {
		repeating = domain.RepeatingNone
	}
	at := in.DateTime
	if at.IsZero() {
		at = e.now()
	}
	tx := domain.Transaction{
		ID:            id,
		UID:           s.UID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Type:          in.Type,
		TagIDs:        tagIDs,
		Note:          in.Note,
		DateTime:      at,
		Repeating:     repeating,
		AttachedFiles: slices.Clone(in.AttachedFiles),
		Rate:          &rate,
	}
	if existing != nil && in.AttachedFiles == nil {
		tx.AttachedFiles = slices.Clone(existing.AttachedFiles)
	}

	ops := make([]remote.WriteOp, 0, len(newTags)+1)
	for _, tag := range newTags {
		raw, err := replica.EncodeTag(tag)
		if err != nil {
			return domain.Transaction{}, err
		}
		ops = append(ops, remote.SetOp(remote.Tags, tag.ID, raw))
	}
	raw, err := replica.EncodeTransaction(tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	ops = append(ops, remote.SetOp(remote.Transactions, tx.ID, raw))
	if err := e.submit(ctx, ops); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// tagsFor resolves tag names to ids, creating tags for unknown names.
func (e *Engine) tagsFor(s domain.State, names []string) ([]domain.Tag, []string) {
	byName := domain.TagsByName(s.Tags)
	var created []domain.Tag
	var ids []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if tag, ok := byName[name]; ok {
			ids = append(ids, tag.ID)
			continue
		}
		tag := domain.Tag{ID: e.newID(), UID: s.UID, Name: name}
		byName[name] = tag
		created = append(created, tag)
		ids = append(ids, tag.ID)
	}
	return created, ids
}

// DeleteTransactions removes the given transactions.
func (e *Engine) DeleteTransactions(ctx context.Context, ids ...string) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("DeleteTransactions: %w", err))
	}
	ops := make([]remote.WriteOp, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.Transactions[id]; !ok {
			return e.record(fmt.Errorf("DeleteTransactions: transaction %s: %w", id, ErrNotFound))
		}
		ops = append(ops, remote.DeleteOp(remote.Transactions, id))
	}
	if err := e.submit(ctx, ops); err != nil {
		return e.record(fmt.Errorf("DeleteTransactions: %w", err))
	}
	return nil
}

// CreateTag creates a tag called name.
func (e *Engine) CreateTag(ctx context.Context, name string) (domain.Tag, error) {
	s, err := e.session()
	if err != nil {
		return domain.Tag{}, e.record(fmt.Errorf("CreateTag: %w", err))
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, e.record(fmt.Errorf("CreateTag: %w: empty name", ErrInvalidInput))
	}
	if _, taken := domain.TagsByName(s.Tags)[name]; taken {
		return domain.Tag{}, e.record(fmt.Errorf("CreateTag: %q: %w", name, ErrDuplicateTag))
	}
	tag := domain.Tag{ID: e.newID(), UID: s.UID, Name: name}
	if err := e.writeTag(ctx, tag); err != nil {
		return domain.Tag{}, e.record(fmt.Errorf("CreateTag: %w", err))
	}
	return tag, nil
}

// UpdateTag replaces tag. The name must stay unique.
func (e *Engine) UpdateTag(ctx context.Context, tag domain.Tag) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("UpdateTag: %w", err))
	}
	existing, ok := s.Tags[tag.ID]
	if !ok {
		return e.record(fmt.Errorf("UpdateTag: tag %s: %w", tag.ID, ErrNotFound))
	}
	tag.Name = strings.TrimSpace(tag.Name)
	if tag.Name == "" {
		return e.record(fmt.Errorf("UpdateTag: %w: empty name", ErrInvalidInput))
	}
	if other, taken := domain.TagsByName(s.Tags)[tag.Name]; taken && other.ID != tag.ID {
		return e.record(fmt.Errorf("UpdateTag: %q: %w", tag.Name, ErrDuplicateTag))
	}
	tag.UID = existing.UID
	if err := e.writeTag(ctx, tag); err != nil {
		return e.record(fmt.Errorf("UpdateTag: %w", err))
	}
	return nil
}

func (e *Engine) writeTag(ctx context.Context, tag domain.Tag) error {
	raw, err := replica.EncodeTag(tag)
	if err != nil {
		return err
	}
	return e.submit(ctx, []remote.WriteOp{remote.SetOp(remote.Tags, tag.ID, raw)})
}

// DeleteTags removes the given tags and drops them from every transaction
// that references them.
func (e *Engine) DeleteTags(ctx context.Context, ids ...string) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("DeleteTags: %w", err))
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.Tags[id]; !ok {
			return e.record(fmt.Errorf("DeleteTags: tag %s: %w", id, ErrNotFound))
		}
		drop[id] = true
	}

	txIDs := make([]string, 0)
	for id, tx := range s.Transactions {
		if slices.ContainsFunc(tx.TagIDs, func(t string) bool { return drop[t] }) {
			txIDs = append(txIDs, id)
		}
	}
	sort.Strings(txIDs)

	ops := make([]remote.WriteOp, 0, len(txIDs)+len(ids))
	for _, id := range txIDs {
		kept := slices.DeleteFunc(slices.Clone(s.Transactions[id].TagIDs), func(t string) bool { return drop[t] })
		ops = append(ops, remote.UpdateOp(remote.Transactions, id, map[string]any{"tagIds": kept}))
	}
	for _, id := range ids {
		ops = append(ops, remote.DeleteOp(remote.Tags, id))
	}
	if err := e.submit(ctx, ops); err != nil {
		return e.record(fmt.Errorf("DeleteTags: %w", err))
	}
	return nil
}

// SetMainCurrency changes the currency balances are reported in.
func (e *Engine) SetMainCurrency(ctx context.Context, c domain.Currency) error {
	return e.updateSettings(ctx, "SetMainCurrency", c, func(s *domain.Settings) { s.MainCurrency = c })
}

// SetDefaultCurrency changes the currency preselected for new transactions.
func (e *Engine) SetDefaultCurrency(ctx context.Context, c domain.Currency) error {
	return e.updateSettings(ctx, "SetDefaultCurrency", c, func(s *domain.Settings) { s.DefaultCurrency = c })
}

func (e *Engine) updateSettings(ctx context.Context, op string, c domain.Currency, set func(*domain.Settings)) error {
	s, err := e.session()
	if err != nil {
		return e.record(fmt.Errorf("%s: %w", op, err))
	}
	if !c.Valid() {
		return e.record(fmt.Errorf("%s: %w: unsupported currency %q", op, ErrInvalidInput, c))
	}
	profile, ok := s.CurrentProfile()
	if !ok {
		return e.record(fmt.Errorf("%s: %w", op, domain.ErrUserDataNotLoaded))
	}
	set(&profile.Settings)
	raw, err := replica.EncodeProfile(profile)
	if err != nil {
		return e.record(fmt.Errorf("%s: %w", op, err))
	}
	if err := e.submit(ctx, []remote.WriteOp{remote.SetOp(remote.Profiles, profile.ID, raw)}); err != nil {
		return e.record(fmt.Errorf("%s: %w", op, err))
	}
	return nil
}
