package impexp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/replica"
)

// topLevelKeys are the collections a whole-state file must contain, in the
// order they are checked.
var topLevelKeys = []remote.Collection{remote.Tags, remote.Transactions, remote.Profiles}

// ReconcileJSON validates a whole-state file against current and decodes it.
// It fails when a collection is missing, when an imported id already exists
// in current, or when an imported tag reuses an existing tag name.
func ReconcileJSON(data []byte, current domain.SerializableState) (domain.SerializableState, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return domain.SerializableState{}, &ValidationError{
			Reason: "Unable to parse the JSON file. Are you sure the file is a JSON file?",
			kind:   ErrMalformed,
		}
	}

	raw := make(map[remote.Collection]map[string]json.RawMessage, len(topLevelKeys))
	for _, key := range topLevelKeys {
		v, ok := top[string(key)]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return domain.SerializableState{}, &ValidationError{
				Field:  string(key),
				Reason: fmt.Sprintf("Imported data does not contain all required fields. Missing field: '%s'", key),
				kind:   ErrMissingField,
			}
		}
		var docs map[string]json.RawMessage
		if err := json.Unmarshal(v, &docs); err != nil {
			return domain.SerializableState{}, &ValidationError{
				Field:  string(key),
				Reason: fmt.Sprintf("Field '%s' must be an object keyed by id", key),
				kind:   ErrMalformed,
			}
		}
		raw[key] = docs
	}

	for _, key := range topLevelKeys {
		for _, id := range sortedIDs(raw[key]) {
			if exists(current, key, id) {
				return domain.SerializableState{}, &ValidationError{
					Field:  string(key),
					ID:     id,
					Reason: fmt.Sprintf("Imported data would override current data. Specifically, field '%s' with id '%s'", key, id),
					kind:   ErrCollision,
				}
			}
		}
	}

	out := domain.EmptySerializable()
	for _, id := range sortedIDs(raw[remote.Tags]) {
		tag, err := replica.DecodeTag(remote.Document{ID: id, Data: raw[remote.Tags][id]})
		if err != nil {
			return domain.SerializableState{}, decodeError(remote.Tags, id, err)
		}
		out.Tags[id] = tag
	}

	existingNames := make(map[string]bool, len(current.Tags))
	for _, t := range current.Tags {
		existingNames[normalizeTagName(t.Name)] = true
	}
	for _, id := range sortedIDs(raw[remote.Tags]) {
		tag := out.Tags[id]
		if existingNames[normalizeTagName(tag.Name)] {
			return domain.SerializableState{}, &ValidationError{
				Field:  string(remote.Tags),
				ID:     id,
				Reason: fmt.Sprintf("There is already a tag with name: '%s' and id '%s'", tag.Name, id),
				kind:   ErrDuplicateTagName,
			}
		}
	}

	for _, id := range sortedIDs(raw[remote.Transactions]) {
		tx, err := replica.DecodeTransaction(remote.Document{ID: id, Data: raw[remote.Transactions][id]})
		if err != nil {
			return domain.SerializableState{}, decodeError(remote.Transactions, id, err)
		}
		if !tx.Currency.Valid() {
			return domain.SerializableState{}, &ValidationError{
				Field:  string(remote.Transactions),
				ID:     id,
				Reason: fmt.Sprintf("Invalid currency '%s' of transaction '%s'", tx.Currency, id),
				kind:   ErrInvalidRecord,
			}
		}
		out.Transactions[id] = tx
	}
	for _, id := range sortedIDs(raw[remote.Profiles]) {
		p, err := replica.DecodeProfile(remote.Document{ID: id, Data: raw[remote.Profiles][id]})
		if err != nil {
			return domain.SerializableState{}, decodeError(remote.Profiles, id, err)
		}
		out.Profile[id] = p
	}
	return out, nil
}

func exists(s domain.SerializableState, coll remote.Collection, id string) bool {
	switch coll {
	case remote.Tags:
		_, ok := s.Tags[id]
		return ok
	case remote.Transactions:
		_, ok := s.Transactions[id]
		return ok
	case remote.Profiles:
		_, ok := s.Profile[id]
		return ok
	}
	return false
}

func decodeError(coll remote.Collection, id string, err error) *ValidationError {
	return &ValidationError{
		Field:  string(coll),
		ID:     id,
		Reason: fmt.Sprintf("Invalid record in field '%s' with id '%s': %v", coll, id, err),
		kind:   ErrMalformed,
	}
}

func sortedIDs(m map[string]json.RawMessage) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
