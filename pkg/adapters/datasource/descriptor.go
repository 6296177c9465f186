package datasource

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
)

const (
	DefaultType    = "postgres"
	DefaultPort    = 5432
	DefaultSSLMode = "require"
	DefaultSchema  = "public"
)

// ConnectionDescriptor is everything needed to reach one database and the
// schema the caller works in. Values are passed down explicitly; nothing is
// cached process-wide by implicit defaults.
type ConnectionDescriptor struct {
	Type     string `json:"type,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	Schema   string `json:"schema,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// ConnString builds a PostgreSQL URL. User-provided fields are escaped so
// passwords with @, /, # or ? survive URL parsing.
func (d ConnectionDescriptor) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode
	}
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

// Key identifies the server and credentials of the descriptor for pool reuse.
// The schema is not part of the key: one pool serves every schema.
func (d ConnectionDescriptor) Key() string {
	sum := sha256.Sum256([]byte(d.Password))
	return fmt.Sprintf("%s|%s:%d/%s|%s|%s", d.driver(), d.Host, d.Port, d.Database, d.User, hex.EncodeToString(sum[:8]))
}

// String never includes the password.
func (d ConnectionDescriptor) String() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s?schema=%s", d.driver(), d.User, d.Host, d.Port, d.Database, d.Schema)
}

func (d ConnectionDescriptor) driver() string {
	if d.Type == "" {
		return DefaultType
	}
	return d.Type
}

// Driver returns the adapter type, defaulting to postgres.
func (d ConnectionDescriptor) Driver() string { return d.driver() }

// Validate reports missing required fields.
func (d ConnectionDescriptor) Validate() error {
	switch {
	case d.Host == "":
		return fmt.Errorf("host is required")
	case d.User == "":
		return fmt.Errorf("user is required")
	case d.Database == "":
		return fmt.Errorf("database is required")
	}
	return nil
}

// Merge returns d with every non-empty field of override applied on top.
func (d ConnectionDescriptor) Merge(override *ConnectionDescriptor) ConnectionDescriptor {
	if override == nil {
		return d
	}
	if override.Type != "" {
		d.Type = override.Type
	}
	if override.Host != "" {
		d.Host = override.Host
	}
	if override.Port != 0 {
		d.Port = override.Port
	}
	if override.Database != "" {
		d.Database = override.Database
	}
	if override.User != "" {
		d.User = override.User
	}
	if override.Password != "" {
		d.Password = override.Password
	}
	if override.Schema != "" {
		d.Schema = override.Schema
	}
	if override.SSLMode != "" {
		d.SSLMode = override.SSLMode
	}
	return d
}

// WithDefaults fills port, SSL mode, type and schema.
func (d ConnectionDescriptor) WithDefaults() ConnectionDescriptor {
	if d.Type == "" {
		d.Type = DefaultType
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.SSLMode == "" {
		d.SSLMode = DefaultSSLMode
	}
	if d.Schema == "" {
		d.Schema = DefaultSchema
	}
	return d
}

// DescriptorFromMap creates a descriptor from a generic config map such as a
// decoded JSON request body.
func DescriptorFromMap(config map[string]any) (ConnectionDescriptor, error) {
	d := ConnectionDescriptor{Port: DefaultPort, SSLMode: DefaultSSLMode}

	if host, ok := config["host"].(string); ok {
		d.Host = host
	} else {
		return d, fmt.Errorf("host is required")
	}

	if port, ok := config["port"].(float64); ok { // JSON numbers are float64
		d.Port = int(port)
	} else if port, ok := config["port"].(int); ok {
		d.Port = port
	}

	if user, ok := config["user"].(string); ok {
		d.User = user
	} else {
		return d, fmt.Errorf("user is required")
	}

	if password, ok := config["password"].(string); ok {
		d.Password = password
	}

	if database, ok := config["database"].(string); ok {
		d.Database = database
	} else if name, ok := config["name"].(string); ok {
		d.Database = name
	} else {
		return d, fmt.Errorf("database is required")
	}

	if schema, ok := config["schema"].(string); ok {
		d.Schema = schema
	}
	if sslMode, ok := config["ssl_mode"].(string); ok {
		d.SSLMode = sslMode
	}
	if typ, ok := config["type"].(string); ok {
		d.Type = typ
	}

	return d, nil
}
