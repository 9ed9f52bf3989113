package core

import (
	"time"
)

type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSQLServer Dialect = "sqlserver"
)

// Dialects lists every supported engine family.
var Dialects = []Dialect{DialectPostgres, DialectMySQL, DialectSQLServer}

func (d Dialect) Valid() bool {
	for _, known := range Dialects {
		if d == known {
			return true
		}
	}
	return false
}

type ConnectionStatus string

const (
	StatusActive   ConnectionStatus = "active"
	StatusInactive ConnectionStatus = "inactive"
	StatusError    ConnectionStatus = "error"
)

// Credentials is the plaintext bundle. It only exists in memory between
// decryption and pool creation.
type Credentials struct {
	Host             string `json:"host,omitempty" validate:"required_without=ConnectionString"`
	Port             int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Database         string `json:"database,omitempty" validate:"required_without=ConnectionString"`
	User             string `json:"user,omitempty" validate:"required_without=ConnectionString"`
	Password         string `json:"password,omitempty"`
	SSLMode          string `json:"ssl_mode,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
}

// DatabaseConnection is the stored record, including the encrypted bundle.
type DatabaseConnection struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Name            string           `json:"name"`
	Dialect         Dialect          `json:"dialect"`
	CredentialsEnc  string           `json:"-"` // Encrypted
	Status          ConnectionStatus `json:"status"`
	LastConnectedAt *time.Time       `json:"last_connected_at,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Info projects the record without any credential material.
func (c *DatabaseConnection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:              c.ID,
		UserID:          c.UserID,
		Name:            c.Name,
		Dialect:         c.Dialect,
		Status:          c.Status,
		LastConnectedAt: c.LastConnectedAt,
		LastError:       c.LastError,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ConnectionInfo is what callers outside the subsystem get to see.
type ConnectionInfo struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Name            string           `json:"name"`
	Dialect         Dialect          `json:"dialect"`
	Status          ConnectionStatus `json:"status"`
	LastConnectedAt *time.Time       `json:"last_connected_at,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type CreateConnectionInput struct {
	Name        string      `json:"name" validate:"required,max=200"`
	Dialect     Dialect     `json:"dialect" validate:"required"`
	Credentials Credentials `json:"credentials"`
}

// ConnectionPatch carries optional changes; nil fields are left alone.
type ConnectionPatch struct {
	Name        *string           `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Dialect     *Dialect          `json:"dialect,omitempty"`
	Credentials *Credentials      `json:"credentials,omitempty"`
	Status      *ConnectionStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive error"`
	LastError   *string           `json:"last_error,omitempty"`
}

// ConnectionTestResult reports a one-off probe with unsaved credentials.
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	DefaultValue *string `json:"default_value,omitempty"`
	PrimaryKey   bool    `json:"primary_key"`
	ForeignKey   bool    `json:"foreign_key"`
	RefTable     string  `json:"ref_table,omitempty"`
	RefColumn    string  `json:"ref_column,omitempty"`
}

type TableInfo struct {
	Name     string   `json:"name"`
	Schema   string   `json:"schema,omitempty"`
	Columns  []Column `json:"columns"`
	RowCount *int64   `json:"row_count,omitempty"`
}

// QualifiedName is schema.table when a namespace is known.
func (t TableInfo) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

type SchemaSnapshot struct {
	ConnectionID  string         `json:"connection_id"`
	Dialect       Dialect        `json:"dialect"`
	Tables        []TableInfo    `json:"tables"`
	Relationships []Relationship `json:"relationships"`
	Summary       string         `json:"summary,omitempty"`
	CachedAt      time.Time      `json:"cached_at"`
}

// FreshAt reports whether the snapshot is within maxAge of now.
func (s *SchemaSnapshot) FreshAt(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.CachedAt) <= maxAge
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type GeneratedQuery struct {
	SQL         string     `json:"sql"`
	Explanation string     `json:"explanation"`
	Confidence  Confidence `json:"confidence"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// GenerationFailedSQL is stored in history when no SQL was produced.
const GenerationFailedSQL = "-- generation failed"

type QueryHistoryEntry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ConnectionID    string    `json:"connection_id"`
	Question        string    `json:"question"`
	GeneratedSQL    string    `json:"generated_sql"`
	Success         bool      `json:"success"`
	RowCount        int       `json:"row_count"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryOutput is what a driver returns for one successful statement.
type QueryOutput struct {
	Columns   []ColumnMeta
	Rows      []map[string]interface{}
	Truncated bool
}

type ErrorKind string

const (
	ErrorKindUnsafe  ErrorKind = "unsafe_query"
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindDriver  ErrorKind = "driver_error"
)

type ExecutionResult struct {
	Success         bool                     `json:"success"`
	GeneratedSQL    string                   `json:"generated_sql,omitempty"`
	Explanation     string                   `json:"explanation,omitempty"`
	Confidence      Confidence               `json:"confidence,omitempty"`
	Columns         []ColumnMeta             `json:"columns,omitempty"`
	Rows            []map[string]interface{} `json:"rows,omitempty"`
	RowCount        int                      `json:"row_count"`
	ExecutionTimeMs int64                    `json:"execution_time_ms"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Error           string                   `json:"error,omitempty"`
	ErrorKind       ErrorKind                `json:"error_kind,omitempty"`
	DryRun          bool                     `json:"dry_run,omitempty"`
}

type ExecuteOptions struct {
	Timeout time.Duration
	MaxRows int
	DryRun  bool
}

type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type ApiKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
