package sqlstore

const (
	// SchemaVersion is bumped whenever the tables below change shape. A database
	// written with another version is dropped and recreated on open.
	SchemaVersion = "2"
)

// Schema holds every table of the index. Locations are interned once and referred
// to by id everywhere else.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS locations (
    id INTEGER PRIMARY KEY,
    resource TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    span_length INTEGER NOT NULL,
    UNIQUE(resource, name, kind, start_offset, span_length)
);

CREATE TABLE IF NOT EXISTS files (
    resource TEXT PRIMARY KEY,
    mod_stamp INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS file_source_locations (
    resource TEXT NOT NULL,
    seq INTEGER NOT NULL,
    location_id INTEGER NOT NULL REFERENCES locations(id),
    PRIMARY KEY(resource, seq)
);

-- kind 1 = dependent file (dependent set), kind 2 = dependent location (layer, location_id set)
CREATE TABLE IF NOT EXISTS file_dependencies (
    resource TEXT NOT NULL,
    seq INTEGER NOT NULL,
    internal INTEGER NOT NULL,
    kind INTEGER NOT NULL,
    layer TEXT NOT NULL DEFAULT '',
    location_id INTEGER REFERENCES locations(id),
    dependent TEXT NOT NULL DEFAULT '',
    PRIMARY KEY(resource, seq)
);

CREATE TABLE IF NOT EXISTS file_referrers (
    resource TEXT NOT NULL,
    source TEXT NOT NULL,
    location_id INTEGER NOT NULL REFERENCES locations(id),
    target_id INTEGER NOT NULL REFERENCES locations(id),
    UNIQUE(resource, source, location_id, target_id)
);

CREATE TABLE IF NOT EXISTS connections (
    layer TEXT NOT NULL,
    src_id INTEGER NOT NULL REFERENCES locations(id),
    dst_id INTEGER NOT NULL REFERENCES locations(id),
    PRIMARY KEY(layer, src_id, dst_id)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_connections_dst ON connections(layer, dst_id);
CREATE INDEX IF NOT EXISTS idx_connections_src_any ON connections(src_id);
CREATE INDEX IF NOT EXISTS idx_connections_dst_any ON connections(dst_id);
CREATE INDEX IF NOT EXISTS idx_referrers_source ON file_referrers(resource, source);
CREATE INDEX IF NOT EXISTS idx_referrers_location ON file_referrers(location_id);
CREATE INDEX IF NOT EXISTS idx_referrers_target ON file_referrers(target_id);
CREATE INDEX IF NOT EXISTS idx_source_locations_location ON file_source_locations(location_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_location ON file_dependencies(location_id);
`

// dropSchema removes every table, used when the schema version changed.
const dropSchema = `
DROP TABLE IF EXISTS connections;
DROP TABLE IF EXISTS file_referrers;
DROP TABLE IF EXISTS file_dependencies;
DROP TABLE IF EXISTS file_source_locations;
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS locations;
DROP TABLE IF EXISTS metadata;
`

// clearContent empties every table but metadata.
const clearContent = `
DELETE FROM connections;
DELETE FROM file_referrers;
DELETE FROM file_dependencies;
DELETE FROM file_source_locations;
DELETE FROM files;
DELETE FROM locations;
`

// deleteOrphanLocation removes a location row once nothing refers to it.
const deleteOrphanLocation = `
DELETE FROM locations WHERE id = ?
    AND NOT EXISTS (SELECT 1 FROM connections WHERE src_id = locations.id)
    AND NOT EXISTS (SELECT 1 FROM connections WHERE dst_id = locations.id)
    AND NOT EXISTS (SELECT 1 FROM file_source_locations WHERE location_id = locations.id)
    AND NOT EXISTS (SELECT 1 FROM file_dependencies WHERE location_id = locations.id)
    AND NOT EXISTS (SELECT 1 FROM file_referrers WHERE location_id = locations.id)
    AND NOT EXISTS (SELECT 1 FROM file_referrers WHERE target_id = locations.id)
RETURNING resource, name, kind, start_offset, span_length
`

const (
	dependentFileKind     = 1
	dependentLocationKind = 2
)
