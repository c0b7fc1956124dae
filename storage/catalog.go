package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/glebarez/go-sqlite"
	"github.com/samber/oops"

	"github.com/caio-sobreiro/dicomscp/types"
)

const instancesTable = "instances"

const createInstancesTable = `
CREATE TABLE IF NOT EXISTS instances (
	sop_instance_uid    TEXT PRIMARY KEY,
	sop_class_uid       TEXT NOT NULL,
	transfer_syntax_uid TEXT NOT NULL,
	patient_id          TEXT NOT NULL DEFAULT '',
	patient_name        TEXT NOT NULL DEFAULT '',
	study_instance_uid  TEXT NOT NULL DEFAULT '',
	study_date          TEXT NOT NULL DEFAULT '',
	study_description   TEXT NOT NULL DEFAULT '',
	accession_number    TEXT NOT NULL DEFAULT '',
	series_instance_uid TEXT NOT NULL DEFAULT '',
	modality            TEXT NOT NULL DEFAULT '',
	calling_ae_title    TEXT NOT NULL DEFAULT '',
	location            TEXT NOT NULL DEFAULT '',
	size                INTEGER NOT NULL DEFAULT 0,
	received_at         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS instances_study_idx ON instances (study_instance_uid);
CREATE INDEX IF NOT EXISTS instances_patient_idx ON instances (patient_id);
`

// ErrNotFound is returned by Get for an unknown SOP instance.
var ErrNotFound = errors.New("storage: instance not found")

// Catalog indexes stored instances in SQLite and answers C-FIND queries.
type Catalog struct {
	rawDB *sql.DB
	db    *goqu.Database
}

// OpenCatalog opens or creates the catalog database at path. ":memory:" is
// accepted for a private in-memory catalog.
func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	rawDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.In("catalog").With("path", path).Wrapf(err, "failed to open database")
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		rawDB.SetMaxOpenConns(1)
	}
	if _, err := rawDB.ExecContext(ctx, createInstancesTable); err != nil {
		_ = rawDB.Close()
		return nil, oops.In("catalog").With("path", path).Wrapf(err, "failed to create schema")
	}
	return &Catalog{rawDB: rawDB, db: goqu.New("sqlite3", rawDB)}, nil
}

func (c *Catalog) Close() error {
	return c.rawDB.Close()
}

// Record inserts inst, replacing an earlier copy of the same SOP instance.
func (c *Catalog) Record(ctx context.Context, inst *Instance) error {
	if inst.SOPInstanceUID == "" {
		return oops.In("catalog").Errorf("instance has no SOP instance UID")
	}
	receivedAt := inst.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	record := goqu.Record{
		"sop_instance_uid":    inst.SOPInstanceUID,
		"sop_class_uid":       inst.SOPClassUID,
		"transfer_syntax_uid": inst.TransferSyntaxUID,
		"patient_id":          inst.PatientID,
		"patient_name":        inst.PatientName,
		"study_instance_uid":  inst.StudyInstanceUID,
		"study_date":          inst.StudyDate,
		"study_description":   inst.StudyDescription,
		"accession_number":    inst.AccessionNumber,
		"series_instance_uid": inst.SeriesInstanceUID,
		"modality":            inst.Modality,
		"calling_ae_title":    inst.CallingAETitle,
		"location":            inst.Location,
		"size":                inst.Size,
		"received_at":         receivedAt.UnixMilli(),
	}
	update := goqu.Record{}
	for col := range record {
		if col != "sop_instance_uid" {
			update[col] = goqu.I("EXCLUDED." + col)
		}
	}

	q := c.db.Insert(instancesTable).Prepared(true).
		Rows(record).
		OnConflict(goqu.DoUpdate("sop_instance_uid", update))
	query, args, err := q.ToSQL()
	if err != nil {
		return oops.In("catalog").Wrapf(err, "failed to build insert")
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return oops.In("catalog").With("sop_instance_uid", inst.SOPInstanceUID).Wrapf(err, "failed to record instance")
	}
	return nil
}

// Get loads one instance.
func (c *Catalog) Get(ctx context.Context, sopInstanceUID string) (*Instance, error) {
	q := c.db.From(instancesTable).Prepared(true).
		Select(allColumns...).
		Where(goqu.C("sop_instance_uid").Eq(sopInstanceUID))
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, oops.In("catalog").Wrapf(err, "failed to build select")
	}

	var inst Instance
	var receivedAt int64
	dest := append(inst.fields(), &inst.CallingAETitle, &inst.Location, &inst.Size, &receivedAt)
	err = c.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.In("catalog").With("sop_instance_uid", sopInstanceUID).Wrapf(err, "failed to load instance")
	}
	inst.ReceivedAt = time.UnixMilli(receivedAt)
	return &inst, nil
}

var allColumns = []any{
	"sop_instance_uid", "sop_class_uid", "transfer_syntax_uid",
	"patient_id", "patient_name",
	"study_instance_uid", "study_date", "study_description", "accession_number",
	"series_instance_uid", "modality",
	"calling_ae_title", "location", "size", "received_at",
}

func (i *Instance) fields() []any {
	return []any{
		&i.SOPInstanceUID, &i.SOPClassUID, &i.TransferSyntaxUID,
		&i.PatientID, &i.PatientName,
		&i.StudyInstanceUID, &i.StudyDate, &i.StudyDescription, &i.AccessionNumber,
		&i.SeriesInstanceUID, &i.Modality,
	}
}

type column struct {
	name  string
	field func(*types.QueryMatch) *string
}

var (
	patientColumns = []column{
		{"patient_id", func(m *types.QueryMatch) *string { return &m.PatientID }},
		{"patient_name", func(m *types.QueryMatch) *string { return &m.PatientName }},
	}
	studyColumns = []column{
		{"study_instance_uid", func(m *types.QueryMatch) *string { return &m.StudyInstanceUID }},
		{"study_date", func(m *types.QueryMatch) *string { return &m.StudyDate }},
		{"study_description", func(m *types.QueryMatch) *string { return &m.StudyDescription }},
		{"accession_number", func(m *types.QueryMatch) *string { return &m.AccessionNumber }},
	}
	seriesColumns = []column{
		{"series_instance_uid", func(m *types.QueryMatch) *string { return &m.SeriesInstanceUID }},
		{"modality", func(m *types.QueryMatch) *string { return &m.Modality }},
	}
	imageColumns = []column{
		{"sop_class_uid", func(m *types.QueryMatch) *string { return &m.SOPClassUID }},
		{"sop_instance_uid", func(m *types.QueryMatch) *string { return &m.SOPInstanceUID }},
	}
)

func levelColumns(level types.QueryLevel) []column {
	cols := append([]column{}, patientColumns...)
	switch level {
	case types.QueryLevelPatient:
		return cols
	case types.QueryLevelStudy:
		return append(cols, studyColumns...)
	case types.QueryLevelSeries:
		cols = append(cols, studyColumns...)
		return append(cols, seriesColumns...)
	default:
		cols = append(cols, studyColumns...)
		cols = append(cols, seriesColumns...)
		return append(cols, imageColumns...)
	}
}

// Query returns the distinct records matching q at q.Level.
func (c *Catalog) Query(ctx context.Context, q types.QueryRequest) ([]types.QueryMatch, error) {
	if !q.Level.Valid() {
		return nil, oops.In("catalog").With("level", q.Level).Errorf("invalid query level")
	}
	cols := levelColumns(q.Level)
	selectCols := make([]any, len(cols))
	order := make([]exp.OrderedExpression, len(cols))
	for i, col := range cols {
		selectCols[i] = col.name
		order[i] = goqu.C(col.name).Asc()
	}

	ds := c.db.From(instancesTable).Prepared(true).
		Select(selectCols...).
		Distinct().
		Where(queryFilters(q)...).
		Order(order...)
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, oops.In("catalog").Wrapf(err, "failed to build query")
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.In("catalog").With("level", q.Level).Wrapf(err, "failed to query instances")
	}
	defer rows.Close()

	var matches []types.QueryMatch
	for rows.Next() {
		var m types.QueryMatch
		dest := make([]any, len(cols))
		for i, col := range cols {
			dest[i] = col.field(&m)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, oops.In("catalog").Wrapf(err, "failed to scan match")
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("catalog").Wrapf(err, "failed to read matches")
	}
	return matches, nil
}

func queryFilters(q types.QueryRequest) []exp.Expression {
	var filters []exp.Expression
	add := func(col, value string) {
		if f := matchValue(col, value); f != nil {
			filters = append(filters, f)
		}
	}
	add("patient_name", q.PatientName)
	add("patient_id", q.PatientID)
	add("study_instance_uid", q.StudyInstanceUID)
	add("study_description", q.StudyDescription)
	add("accession_number", q.AccessionNumber)
	add("modality", q.Modality)
	add("series_instance_uid", q.SeriesInstanceUID)
	add("sop_instance_uid", q.SOPInstanceUID)
	if f := matchDateRange("study_date", q.StudyDate); f != nil {
		filters = append(filters, f)
	}
	return filters
}

// matchValue applies single value, wildcard or universal matching.
func matchValue(col, value string) exp.Expression {
	if value == "" || value == "*" {
		return nil
	}
	if strings.ContainsAny(value, "*?") {
		pattern := strings.NewReplacer("*", "%", "?", "_").Replace(value)
		return goqu.C(col).Like(pattern)
	}
	return goqu.C(col).Eq(value)
}

// matchDateRange handles YYYYMMDD, YYYYMMDD-, -YYYYMMDD and
// YYYYMMDD-YYYYMMDD.
func matchDateRange(col, value string) exp.Expression {
	from, to, isRange := strings.Cut(value, "-")
	if !isRange {
		return matchValue(col, value)
	}
	switch {
	case from != "" && to != "":
		return goqu.C(col).Between(goqu.Range(from, to))
	case from != "":
		return goqu.C(col).Gte(from)
	case to != "":
		return goqu.C(col).Lte(to)
	}
	return nil
}
