package domain

// KeyPrefix namespaces every key the service writes to the index store.
const KeyPrefix = "repodex:"
