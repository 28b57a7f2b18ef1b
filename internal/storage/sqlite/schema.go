package sqlite

const schema = `
-- Entities: people, organizations, projects, concepts, locations.
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'person',
    description TEXT NOT NULL DEFAULT '',
    importance REAL NOT NULL DEFAULT 0.5 CHECK(importance >= 0 AND importance <= 1),
    deleted_at DATETIME,
    deleted_reason TEXT DEFAULT '',
    last_contact_at DATETIME,
    contact_frequency_days REAL,
    contact_trend TEXT DEFAULT '',
    attention_tier TEXT DEFAULT 'standard',
    attributes TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_canonical_live
    ON entities(canonical_name, type) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_attention ON entities(attention_tier);

-- Aliases: alternative spellings that resolve to an entity.
CREATE TABLE IF NOT EXISTS aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id INTEGER NOT NULL,
    alias TEXT NOT NULL,
    canonical_alias TEXT NOT NULL,
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE,
    UNIQUE(entity_id, canonical_alias)
);

CREATE INDEX IF NOT EXISTS idx_aliases_canonical ON aliases(canonical_alias);

-- Memories: atomic facts, preferences, observations, learnings, commitments, patterns.
CREATE TABLE IF NOT EXISTS memories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content TEXT NOT NULL CHECK(length(content) <= 1000),
    content_hash TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'fact',
    importance REAL NOT NULL DEFAULT 1.0 CHECK(importance >= 0 AND importance <= 1),
    confidence REAL NOT NULL DEFAULT 1.0 CHECK(confidence >= 0 AND confidence <= 1),
    origin_type TEXT NOT NULL DEFAULT 'extracted',
    source_channel TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    access_count INTEGER NOT NULL DEFAULT 0,
    verification_status TEXT NOT NULL DEFAULT 'pending',
    verified_at DATETIME,
    corrected_at DATETIME,
    corrected_from INTEGER,
    invalidated_at DATETIME,
    invalidated_reason TEXT DEFAULT '',
    deadline_at DATETIME,
    temporal_markers TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}'
);

-- content_hash is unique among live (non-invalidated) memories; tombstones
-- may retain a duplicate hash, enforced at the application layer (see
-- remember.RememberFact) rather than as a partial-unique-index because the
-- tombstone rule also depends on the merge back-pointer in metadata.
CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_verification ON memories(verification_status);
CREATE INDEX IF NOT EXISTS idx_memories_deadline ON memories(deadline_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

-- Memory <-> entity links (many-to-many).
CREATE TABLE IF NOT EXISTS memory_entities (
    memory_id INTEGER NOT NULL,
    entity_id INTEGER NOT NULL,
    relationship TEXT NOT NULL DEFAULT 'about',
    PRIMARY KEY (memory_id, entity_id, relationship),
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_memory_entities_entity ON memory_entities(entity_id);

-- Relationships: bi-temporal, directed (usually bidirectional) ties between entities.
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER NOT NULL,
    target_id INTEGER NOT NULL,
    type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 1.0 CHECK(strength >= 0 AND strength <= 1),
    direction TEXT NOT NULL DEFAULT 'bidirectional',
    origin_type TEXT NOT NULL DEFAULT 'extracted',
    valid_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    invalid_at DATETIME,
    metadata TEXT NOT NULL DEFAULT '{}',
    FOREIGN KEY (source_id) REFERENCES entities(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES entities(id) ON DELETE CASCADE
);

-- Exactly one current (invalid_at IS NULL) row per (source, target, type) tuple.
CREATE UNIQUE INDEX IF NOT EXISTS idx_relationships_current
    ON relationships(source_id, target_id, type) WHERE invalid_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);

-- Episodes: conversation session envelopes.
CREATE TABLE IF NOT EXISTS episodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    ended_at DATETIME,
    turn_count INTEGER NOT NULL DEFAULT 0,
    message_count INTEGER NOT NULL DEFAULT 0,
    narrative TEXT NOT NULL DEFAULT '',
    key_topics TEXT NOT NULL DEFAULT '[]',
    is_summarized INTEGER NOT NULL DEFAULT 0,
    source_channel TEXT DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
CREATE INDEX IF NOT EXISTS idx_episodes_open ON episodes(ended_at);

-- Turn buffer: transient per-episode user/assistant pairs.
CREATE TABLE IF NOT EXISTS turn_buffer (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    episode_id INTEGER NOT NULL,
    turn_number INTEGER NOT NULL,
    user_content TEXT NOT NULL DEFAULT '',
    assistant_content TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (episode_id) REFERENCES episodes(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_turn_buffer_episode ON turn_buffer(episode_id);
CREATE INDEX IF NOT EXISTS idx_turn_buffer_created_at ON turn_buffer(created_at);

-- Patterns: derived behavioral/communication/relationship observations.
CREATE TABLE IF NOT EXISTS patterns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    pattern_type TEXT NOT NULL,
    occurrences INTEGER NOT NULL DEFAULT 1,
    confidence REAL NOT NULL DEFAULT 0.5,
    evidence TEXT NOT NULL DEFAULT '[]',
    first_observed DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_observed DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_active INTEGER NOT NULL DEFAULT 1,
    UNIQUE(name, pattern_type)
);

-- Predictions: outward-facing suggestions, reminders, warnings, insights.
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pattern_name TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    content TEXT NOT NULL,
    priority REAL NOT NULL DEFAULT 0.5,
    expires_at DATETIME,
    is_shown INTEGER NOT NULL DEFAULT 0,
    is_acted_on INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_predictions_pattern ON predictions(pattern_name);
CREATE INDEX IF NOT EXISTS idx_predictions_expires ON predictions(expires_at);

-- Reflections: long-lived self-observations, separate from memories, decay slower.
CREATE TABLE IF NOT EXISTS reflections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    importance REAL NOT NULL DEFAULT 0.5,
    decay_rate REAL NOT NULL DEFAULT 0.999,
    aggregation_count INTEGER NOT NULL DEFAULT 1,
    aggregated_from TEXT NOT NULL DEFAULT '[]',
    first_observed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_confirmed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reflections_hash ON reflections(content_hash);

-- Documents: filed artifacts (transcripts, emails, uploads) backed by files on disk.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_hash TEXT NOT NULL UNIQUE,
    path TEXT NOT NULL,
    lifecycle TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entity_documents (
    entity_id INTEGER NOT NULL,
    document_id INTEGER NOT NULL,
    PRIMARY KEY (entity_id, document_id),
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE,
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

-- Provenance: which documents a memory was sourced from.
CREATE TABLE IF NOT EXISTS memory_sources (
    memory_id INTEGER NOT NULL,
    document_id INTEGER NOT NULL,
    PRIMARY KEY (memory_id, document_id),
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

-- Cached hierarchical entity summaries, refreshed by the consolidation pass.
CREATE TABLE IF NOT EXISTS entity_summaries (
    entity_id INTEGER PRIMARY KEY,
    summary TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

-- Operational tables.
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    value REAL NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_metrics_created_at ON metrics(created_at);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- _meta: the embedding model name and dimension captured at initialization,
-- so a later dimension mismatch can be detected before any vector write.
CREATE TABLE IF NOT EXISTS _meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Full-text mirror of memories.content, kept in sync by triggers below.
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    content,
    content='memories',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;
`
