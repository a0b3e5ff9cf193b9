package certstore

// schema is the single `certs` table backing the store. There is no
// independent CA-hierarchy table to join against, only end-entity
// lifecycle state, so the schema collapses to one row per issued
// certificate.
const schema = `
CREATE TABLE IF NOT EXISTS certs (
	serial      BIGINT PRIMARY KEY,
	issuer_id   TEXT NOT NULL,
	skid        BYTEA NOT NULL,
	cn          TEXT NOT NULL,
	o           TEXT NOT NULL DEFAULT '',
	ou          TEXT NOT NULL DEFAULT '',
	c           TEXT NOT NULL DEFAULT '',
	not_before  BIGINT NOT NULL,
	not_after   BIGINT NOT NULL,
	status      INTEGER NOT NULL,
	status_date BIGINT NOT NULL
);
`

// The mandatory queries, kept as named constants (one query string per
// Store method) so each can be referenced from its matching method and
// from tests.
const (
	queryDuplicateBySubject = `SELECT serial FROM certs WHERE cn = $1 AND o = $2 AND ou = $3 AND c = $4 AND status NOT IN ($5, $6) LIMIT 1`
	queryDuplicateBySKID    = `SELECT serial FROM certs WHERE skid = $1 AND status NOT IN ($2, $3) LIMIT 1`
	queryInsert             = `INSERT INTO certs (serial, issuer_id, skid, cn, o, ou, c, not_before, not_after, status, status_date) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	queryStatusBySerial     = `SELECT status, status_date FROM certs WHERE serial = $1`
	querySetStatus          = `UPDATE certs SET status = $1, status_date = $2 WHERE serial = $3 AND status = ANY($4)`
	querySweepByValidity    = `SELECT serial FROM certs WHERE status = $1 AND not_before <= $2`
	querySweepByExpiry      = `SELECT serial FROM certs WHERE status = $1 AND not_after < $2`
	queryByIssuerWildcard   = `SELECT serial, issuer_id, skid, cn, o, ou, c, not_before, not_after, status, status_date FROM certs WHERE issuer_id = $1`
)
