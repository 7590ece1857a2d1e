package store

import "fmt"

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open returns a HistoryStore for the named driver. path is ignored by the
// memory driver; an empty path for sqlite means DefaultHistoryPath.
func Open(driver, path string) (HistoryStore, error) {
	switch driver {
	case DriverMemory:
		return NewInMemoryHistoryStore(), nil
	case DriverSQLite, "":
		if path == "" {
			p, err := DefaultHistoryPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewSQLiteHistoryStore(path)
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}
