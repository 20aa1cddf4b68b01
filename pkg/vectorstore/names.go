package vectorstore

import (
	"fmt"
	"regexp"
)

// Collection names become part of table identifiers, so they are
// validated strictly before any interpolation into DDL.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

var reservedNames = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {},
	"create": {}, "alter": {}, "table": {}, "index": {}, "view": {},
	"schema": {}, "database": {}, "user": {}, "collections": {},
}

// ValidateName reports whether name is usable as a collection name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, namePattern.String())
	}
	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}

// dataTable returns the qualified table identifier backing a collection.
func dataTable(name string) string {
	return fmt.Sprintf("%s.vec_%s", schemaName, name)
}
