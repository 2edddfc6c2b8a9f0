// Package mysql persists swap jobs in MySQL. Schema changes are applied from
// the embedded migrations in deploy/migrations when the store is opened.
package mysql
