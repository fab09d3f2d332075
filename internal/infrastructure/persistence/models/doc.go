// Package models holds the GORM rows behind the window ledger and the run
// log. Domain types stay free of ORM tags; each model converts to and from
// its domain type.
package models
