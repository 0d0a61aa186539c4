// Package media handles listing photos: ingest into S3 under content-hash
// keys with resized variants, and URL resolution with a fallback chain
// (requested key, then the configured default image, then a static
// placeholder) where found objects get a time-limited presigned GET URL.
package media
