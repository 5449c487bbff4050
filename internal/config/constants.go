package config

// DefaultDatabasePath is the default path for the local durable store.
const DefaultDatabasePath = "./studysync.db"
