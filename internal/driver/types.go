package driver

// Native type identifiers as reported by ColumnType.DatabaseTypeName, mapped
// to canonical names. Anything missing maps to "unknown".

var postgresTypes = map[string]string{
	"INT2":        "integer",
	"INT4":        "integer",
	"INT8":        "bigint",
	"OID":         "integer",
	"NUMERIC":     "decimal",
	"MONEY":       "decimal",
	"FLOAT4":      "float",
	"FLOAT8":      "float",
	"VARCHAR":     "text",
	"TEXT":        "text",
	"BPCHAR":      "text",
	"CHAR":        "text",
	"NAME":        "text",
	"BOOL":        "boolean",
	"DATE":        "date",
	"TIME":        "time",
	"TIMETZ":      "time",
	"TIMESTAMP":   "timestamp",
	"TIMESTAMPTZ": "timestamp",
	"INTERVAL":    "text",
	"JSON":        "json",
	"JSONB":       "json",
	"UUID":        "uuid",
	"BYTEA":       "binary",
}

var mysqlTypes = map[string]string{
	"TINYINT":            "integer",
	"SMALLINT":           "integer",
	"MEDIUMINT":          "integer",
	"INT":                "integer",
	"UNSIGNED TINYINT":   "integer",
	"UNSIGNED SMALLINT":  "integer",
	"UNSIGNED MEDIUMINT": "integer",
	"UNSIGNED INT":       "integer",
	"BIGINT":             "bigint",
	"UNSIGNED BIGINT":    "bigint",
	"YEAR":               "integer",
	"DECIMAL":            "decimal",
	"FLOAT":              "float",
	"DOUBLE":             "float",
	"CHAR":               "text",
	"VARCHAR":            "text",
	"TEXT":               "text",
	"TINYTEXT":           "text",
	"MEDIUMTEXT":         "text",
	"LONGTEXT":           "text",
	"ENUM":               "text",
	"SET":                "text",
	"BIT":                "boolean",
	"DATE":               "date",
	"TIME":               "time",
	"DATETIME":           "timestamp",
	"TIMESTAMP":          "timestamp",
	"JSON":               "json",
	"BINARY":             "binary",
	"VARBINARY":          "binary",
	"BLOB":               "binary",
	"TINYBLOB":           "binary",
	"MEDIUMBLOB":         "binary",
	"LONGBLOB":           "binary",
}

var sqlServerTypes = map[string]string{
	"TINYINT":          "integer",
	"SMALLINT":         "integer",
	"INT":              "integer",
	"BIGINT":           "bigint",
	"DECIMAL":          "decimal",
	"NUMERIC":          "decimal",
	"MONEY":            "decimal",
	"SMALLMONEY":       "decimal",
	"FLOAT":            "float",
	"REAL":             "float",
	"CHAR":             "text",
	"VARCHAR":          "text",
	"NCHAR":            "text",
	"NVARCHAR":         "text",
	"TEXT":             "text",
	"NTEXT":            "text",
	"XML":              "text",
	"BIT":              "boolean",
	"DATE":             "date",
	"TIME":             "time",
	"DATETIME":         "timestamp",
	"DATETIME2":        "timestamp",
	"SMALLDATETIME":    "timestamp",
	"DATETIMEOFFSET":   "timestamp",
	"UNIQUEIDENTIFIER": "uuid",
	"BINARY":           "binary",
	"VARBINARY":        "binary",
	"IMAGE":            "binary",
}
