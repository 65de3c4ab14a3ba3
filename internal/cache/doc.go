// Package cache defines the disk-backed content store that maps validated
// content keys to StoragePath/<key>.<ext> audio files. The store exposes
// existence/stat queries, lazy byte-range readers, atomic commits of files
// produced by the extractor (staging dir + rename, temp file + rename as a
// cross-device fallback) and the retention sweeper that expires old entries.
// Media handlers depend on this package to serve cached audio without
// duplicating filesystem logic.
package cache
