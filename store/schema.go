package store

// schemaSQL is the base DDL. The vector table is not part of the base
// schema: its dimension is only known once an embedding provider has
// been probed, so it is created lazily by EnsureVecTable.
const schemaSQL = `
-- Content-addressed blobs: hash = hex(sha256(body)), immutable
CREATE TABLE IF NOT EXISTS content (
    hash TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

-- Logical files within collections; deactivation is soft
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    collection TEXT NOT NULL,
    path TEXT NOT NULL,
    title TEXT NOT NULL,
    hash TEXT NOT NULL REFERENCES content(hash),
    created_at DATETIME NOT NULL,
    modified_at DATETIME NOT NULL,
    active INTEGER NOT NULL DEFAULT 1
);

-- At most one active row per (collection, path)
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_active
    ON documents(collection, path) WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(hash);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);

-- Full-text index over active documents, rowid = documents.id.
-- Maintained by store code inside the same transaction as the
-- documents mutation.
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    body,
    title,
    path,
    tokenize='porter unicode61'
);

-- Chunk embedding registry; the vector payload lives in the lazily
-- created vec_embeddings virtual table with matching rowids.
CREATE TABLE IF NOT EXISTS embeddings (
    id INTEGER PRIMARY KEY,
    hash TEXT NOT NULL,
    seq INTEGER NOT NULL,
    pos INTEGER NOT NULL,
    model TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE(hash, seq)
);

-- Engine settings (vector dimension, embedding model)
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Optional LLM response cache, dropped wholesale by cleanup
CREATE TABLE IF NOT EXISTS llm_cache (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`
