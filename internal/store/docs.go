// Package store maps domain documents onto the Pebble keyspace. Each
// document class has a flat prefix; values are JSON. Batch variants exist so
// services can compose multi-document writes inside a single conditional
// update.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/canvasshq/canvass/internal/model"
	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: not found")

// Key builders. Formats:
//
//	resp/{responseID}     survey response document
//	sess/{sessionID}      sessionID -> responseID (duplicate-submission guard)
//	svy/{surveyID}        survey document
//	batch/{batchID}       QC batch document
//	user/{userID}         user document
//	useremail/{email}     email -> userID
func ResponseKey(responseID string) []byte { return []byte("resp/" + responseID) }
func SessionKey(sessionID string) []byte   { return []byte("sess/" + sessionID) }
func SurveyKey(surveyID string) []byte     { return []byte("svy/" + surveyID) }
func BatchKey(batchID string) []byte       { return []byte("batch/" + batchID) }
func UserKey(userID string) []byte         { return []byte("user/" + userID) }
func UserEmailKey(email string) []byte     { return []byte("useremail/" + email) }

// OpenBatchKey points at a survey's currently collecting batch, if any.
// Format: batchopen/{surveyID}
func OpenBatchKey(surveyID string) []byte { return []byte("batchopen/" + surveyID) }

// BatchMemberKey marks a response's membership in a batch.
// Format: batchresp/{batchID}/{responseID}
func BatchMemberKey(batchID, responseID string) []byte {
	return []byte("batchresp/" + batchID + "/" + responseID)
}

// BatchMemberPrefix is the scan prefix for a batch's members.
func BatchMemberPrefix(batchID string) []byte {
	return []byte("batchresp/" + batchID + "/")
}

func getJSON(db *pebblestore.DB, key []byte, out any) error {
	b, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func setJSON(db *pebblestore.DB, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Set(key, b)
}

func batchSetJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, data, nil)
}

// GetResponse loads a survey response document.
func GetResponse(db *pebblestore.DB, responseID string) (*model.SurveyResponse, error) {
	var r model.SurveyResponse
	if err := getJSON(db, ResponseKey(responseID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PutResponse writes a survey response document.
func PutResponse(db *pebblestore.DB, r *model.SurveyResponse) error {
	return setJSON(db, ResponseKey(r.ResponseID), r)
}

// BatchPutResponse stages a response write into b.
func BatchPutResponse(b *pebble.Batch, r *model.SurveyResponse) error {
	return batchSetJSON(b, ResponseKey(r.ResponseID), r)
}

// GetSurvey loads a survey document.
func GetSurvey(db *pebblestore.DB, surveyID string) (*model.Survey, error) {
	var s model.Survey
	if err := getJSON(db, SurveyKey(surveyID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PutSurvey writes a survey document.
func PutSurvey(db *pebblestore.DB, s *model.Survey) error {
	return setJSON(db, SurveyKey(s.SurveyID), s)
}

// ListSurveys scans all survey documents.
func ListSurveys(db *pebblestore.DB) ([]*model.Survey, error) {
	it, err := db.PrefixIter([]byte("svy/"))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []*model.Survey
	for ok := it.First(); ok; ok = it.Next() {
		var s model.Survey
		if err := json.Unmarshal(it.Value(), &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		out = append(out, &s)
	}
	return out, nil
}

// GetBatch loads a QC batch document.
func GetBatch(db *pebblestore.DB, batchID string) (*model.QCBatch, error) {
	var b model.QCBatch
	if err := getJSON(db, BatchKey(batchID), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// PutBatch writes a QC batch document.
func PutBatch(db *pebblestore.DB, b *model.QCBatch) error {
	return setJSON(db, BatchKey(b.BatchID), b)
}

// GetUser loads a user document.
func GetUser(db *pebblestore.DB, userID string) (*model.User, error) {
	var u model.User
	if err := getJSON(db, UserKey(userID), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail resolves the email index then loads the user.
func GetUserByEmail(db *pebblestore.DB, email string) (*model.User, error) {
	idBytes, err := db.Get(UserEmailKey(email))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return GetUser(db, string(idBytes))
}

// BatchPutUser stages the user document and its email index entry into b.
func BatchPutUser(b *pebble.Batch, u *model.User) error {
	if err := batchSetJSON(b, UserKey(u.UserID), u); err != nil {
		return err
	}
	return b.Set(UserEmailKey(u.Email), []byte(u.UserID), nil)
}

// PutUser writes the user document and its email index entry.
func PutUser(db *pebblestore.DB, u *model.User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := db.Set(UserKey(u.UserID), b); err != nil {
		return err
	}
	return db.Set(UserEmailKey(u.Email), []byte(u.UserID))
}
