package store

import (
	"github.com/pitabwire/portico/model"
)

// Core returns the reducer for the actions every store understands.
// journalSize caps the in-memory journal; older records fall off the end.
func Core(journalSize int) Reducer {
	return func(s State, a model.Action) State {
		s = reduceLifecycle(s, a)

		switch a.Type {
		case model.ActionAlert:
			if e, ok := a.Payload.(*model.ServiceError); ok {
				s.Alert = e
			}
		case model.ActionClearAlert:
			s.Alert = nil

		case model.ActionJournalAppend:
			if r, ok := record(a.Payload); ok {
				s.Journal = appendJournal(s.Journal, r, journalSize)
			}
		case model.ActionJournalUpdate:
			if r, ok := record(a.Payload); ok {
				s.Journal = updateJournal(s.Journal, r, journalSize)
			}

		case model.CurrentUserTypes.Resp:
			if u, ok := a.Payload.(*model.User); ok {
				s.User = u
			}
		case model.LogoutTypes.Resp:
			s.User = nil

		case model.ActionConfirmationRequest:
			if c, ok := a.Payload.(Confirmation); ok {
				s.Confirmations[c.ID] = c
			}
		case model.ActionConfirmationResolve:
			if id, ok := a.Payload.(string); ok {
				delete(s.Confirmations, id)
			}
		}
		return s
	}
}

// reduceLifecycle tracks _REQ/_RESP/_ERR triplets: a request marks its
// prefix as fetching and clears the last error; a response or error clears
// the flag and an error records its payload.
func reduceLifecycle(s State, a model.Action) State {
	prefix := model.Prefix(a.Type)
	if prefix == "" {
		return s
	}
	switch a.Type[len(prefix):] {
	case "_REQ":
		s.Fetching[prefix] = true
		delete(s.Errors, prefix)
	case "_RESP":
		delete(s.Fetching, prefix)
	case "_ERR":
		delete(s.Fetching, prefix)
		if e, ok := a.Payload.(*model.ServiceError); ok {
			s.Errors[prefix] = e
		}
	}
	return s
}

func record(payload any) (model.MutationRecord, bool) {
	switch r := payload.(type) {
	case model.MutationRecord:
		return r, true
	case *model.MutationRecord:
		if r != nil {
			return *r, true
		}
	}
	return model.MutationRecord{}, false
}

// appendJournal puts r at the head of the journal, newest first.
func appendJournal(j []model.MutationRecord, r model.MutationRecord, size int) []model.MutationRecord {
	out := make([]model.MutationRecord, 0, len(j)+1)
	out = append(out, r)
	for _, e := range j {
		if e.ClientMutationID != r.ClientMutationID {
			out = append(out, e)
		}
	}
	if size > 0 && len(out) > size {
		out = out[:size]
	}
	return out
}

// updateJournal replaces the record in place, or appends it when unknown.
func updateJournal(j []model.MutationRecord, r model.MutationRecord, size int) []model.MutationRecord {
	for i := range j {
		if j[i].ClientMutationID == r.ClientMutationID {
			j[i] = r
			return j
		}
	}
	return appendJournal(j, r, size)
}
