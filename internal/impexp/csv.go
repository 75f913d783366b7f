package impexp

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/dvloznov/finance-sync/internal/domain"
)

const (
	// BankFilePrefix selects the bank statement dialect.
	BankFilePrefix = "TB"

	// CSVTag is the tag given to every transaction imported from a bank statement.
	CSVTag = "createdFromCSV"

	genericColumns = 7
	bankColumns    = 15
)

var (
	amountRe   = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	bankDateRe = regexp.MustCompile(`^\d\d.\d\d.\d\d\d\d$`)
	timeRe     = regexp.MustCompile(`\d\d:\d\d:\d\d`)
)

// isoLayouts are tried in order for zone-less dates, in Options.Location.
var isoLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Options configure tabular import.
type Options struct {
	// Location is used for dates without a zone. Defaults to time.Local.
	Location *time.Location

	// NewID generates ids of created records. Defaults to random UUIDs.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// ImportCSV parses a tabular file into new transactions and the tags they need.
// Files whose name starts with BankFilePrefix use the bank statement dialect.
// The result only contains new records; it is empty when err is not nil.
func ImportCSV(fileName string, data []byte, uid string, existing map[string]domain.Tag, opts Options) (domain.SerializableState, error) {
	if uid == "" {
		return domain.SerializableState{}, fmt.Errorf("ImportCSV: %w", domain.ErrNoUserID)
	}
	records, err := readRecords(data)
	if err != nil {
		return domain.SerializableState{}, err
	}

	if strings.HasPrefix(fileName, BankFilePrefix) {
		records, err = transcodeBank(records)
		if err != nil {
			return domain.SerializableState{}, err
		}
	}
	return buildImport(records, uid, existing, opts.withDefaults())
}

func readRecords(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("Unable to read the CSV file: %v", err), kind: ErrMalformed}
		}
		records = append(records, rec)
	}
	return records, nil
}

// transcodeBank converts bank statement records (header first) into generic records.
func transcodeBank(records [][]string) ([][]string, error) {
	if len(records) <= 1 {
		return nil, &ValidationError{Reason: "Csv file has to contain at least one line of data", kind: ErrMalformed}
	}
	out := make([][]string, 0, len(records)-1)
	for i, rec := range records[1:] {
		mid, err := TranscodeBankRecord(rec)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Row = i + 1
			}
			return nil, err
		}
		out = append(out, bankToGeneric(mid))
	}
	return out, nil
}

// TranscodeBankRecord converts one bank statement record into the 6-field
// intermediate form: date-time, signed amount, tag, note, currency, repeating.
// Debit rows get a negative amount. A hh:mm:ss found in the note becomes the
// time of day, otherwise midnight is used.
func TranscodeBankRecord(rec []string) ([]string, error) {
	if len(rec) < bankColumns {
		return nil, rowError(0, "", "Lines have to consist of at least %d columns", bankColumns)
	}
	date := rec[0]
	amount := strings.ReplaceAll(rec[2]+"."+rec[3], `"`, "")
	currency := rec[4]
	marker := rec[5]
	note := rec[14]

	switch {
	case !bankDateRe.MatchString(date):
		return nil, rowError(0, "date", "%s is not a valid date", date)
	case !amountRe.MatchString(amount):
		return nil, rowError(0, "amount", "%s is not a valid amount format", strings.Replace(amount, ".", ",", 1))
	case !domain.Currency(currency).Valid():
		return nil, rowError(0, "currency", "%s is an invalid currency", currency)
	case marker != "Kredit" && marker != "Debet":
		return nil, rowError(0, "type", `Columns 5 has to be "Kredit" or "Debet" and it is %s`, marker)
	}

	if marker == "Debet" {
		amount = "-" + amount
	}
	return []string{
		bankDateTime(date, note),
		amount,
		CSVTag,
		note,
		currency,
		string(domain.RepeatingNone),
	}, nil
}

// bankDateTime turns dd.mm.yyyy plus an optional time in note into yyyy-mm-ddThh:mm:ss.000.
func bankDateTime(date, note string) string {
	dd, mm, yyyy := date[0:2], date[3:5], date[6:10]
	clock := "00:00:00"
	if t := timeRe.FindString(note); t != "" {
		clock = t
	}
	return yyyy + "-" + mm + "-" + dd + "T" + clock + ".000"
}

// bankToGeneric expands the intermediate form to the generic 7 columns.
// The sign of the amount decides between expense and income.
func bankToGeneric(mid []string) []string {
	amount := mid[1]
	typ := domain.TypeIncome
	if strings.HasPrefix(amount, "-") {
		typ = domain.TypeExpense
		amount = strings.TrimPrefix(amount, "-")
	}
	return []string{mid[0], amount, string(typ), mid[2], mid[3], mid[4], mid[5]}
}

// rowFields holds a validated generic row.
type rowFields struct {
	dateTime  time.Time
	amount    decimal.Decimal
	typ       domain.TransactionType
	tags      []string
	note      string
	currency  domain.Currency
	repeating domain.Repeating
}

// validateRow checks a generic record. Checks run in a fixed order and the
// first failure is reported.
func validateRow(row int, rec []string, loc *time.Location) (rowFields, error) {
	if len(rec) < genericColumns {
		return rowFields{}, rowError(row, "", "Lines have to consist of at least %d columns", genericColumns)
	}
	dt, ok := parseDate(rec[0], loc)
	if !ok {
		return rowFields{}, rowError(row, "date", "%s is not a valid date", rec[0])
	}
	if !amountRe.MatchString(rec[1]) {
		return rowFields{}, rowError(row, "amount", "%s is not in a valid amount format", rec[1])
	}
	typ := domain.TransactionType(rec[2])
	if !typ.Valid() {
		return rowFields{}, rowError(row, "type", `type has to be "expense" or "income" or "transfer" not %s`, rec[2])
	}
	rawTags := strings.TrimSpace(rec[3])
	if rawTags == "" {
		return rowFields{}, rowError(row, "tags", "There must be at least one tag in a transaction")
	}
	cur := domain.Currency(rec[5])
	if !cur.Valid() {
		return rowFields{}, rowError(row, "currency", "Invalid currency of a transaction")
	}
	rep := domain.Repeating(rec[6])
	if !rep.Valid() {
		return rowFields{}, rowError(row, "repeating", "Invalid repeating mode %s", rec[6])
	}

	amount, err := decimal.NewFromString(rec[1])
	if err != nil {
		return rowFields{}, rowError(row, "amount", "%s is not in a valid amount format", rec[1])
	}
	var tags []string
	for _, name := range strings.Split(rawTags, "|") {
		tags = append(tags, normalizeTagName(name))
	}
	return rowFields{
		dateTime:  dt,
		amount:    amount,
		typ:       typ,
		tags:      tags,
		note:      rec[4],
		currency:  cur,
		repeating: rep,
	}, nil
}

func parseDate(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeTagName makes visually identical names compare equal.
func normalizeTagName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// buildImport validates every record before producing any record.
func buildImport(records [][]string, uid string, existing map[string]domain.Tag, opts Options) (domain.SerializableState, error) {
	existingByName := make(map[string]domain.Tag, len(existing))
	for _, t := range existing {
		existingByName[normalizeTagName(t.Name)] = t
	}

	rows := make([]rowFields, 0, len(records))
	for i, rec := range records {
		f, err := validateRow(i+1, rec, opts.Location)
		if err != nil {
			return domain.SerializableState{}, err
		}
		rows = append(rows, f)
	}

	out := domain.EmptySerializable()
	newByName := make(map[string]domain.Tag)
	for _, f := range rows {
		tagIDs := make([]string, 0, len(f.tags))
		for _, name := range f.tags {
			if t, ok := existingByName[name]; ok {
				tagIDs = append(tagIDs, t.ID)
				continue
			}
			t, ok := newByName[name]
			if !ok {
				t = domain.Tag{ID: opts.NewID(), UID: uid, Name: name, Automatic: false}
				newByName[name] = t
				out.Tags[t.ID] = t
			}
			tagIDs = append(tagIDs, t.ID)
		}

		id := opts.NewID()
		out.Transactions[id] = domain.Transaction{
			ID:        id,
			UID:       uid,
			Amount:    f.amount,
			Currency:  f.currency,
			Type:      f.typ,
			TagIDs:    tagIDs,
			Note:      f.note,
			DateTime:  f.dateTime,
			Repeating: f.repeating,
		}
	}
	return out, nil
}
