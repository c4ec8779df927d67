// Package wire defines the JSON DTOs exchanged between the client's remote
// gateway and the server's sync API. It plays the role generated transport
// stubs would otherwise play, so both binaries agree on one schema.
package wire

// Operation names accepted by the push endpoint.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Outcome statuses returned by the push endpoint, one per submitted mutation.
const (
	StatusAccepted = "accepted"
	StatusConflict = "conflict"
	StatusRejected = "rejected"
)

// Stamp is a logical timestamp: wall-clock milliseconds, a per-process
// sequence number for edits within the same millisecond, and the id of the
// device that produced the edit. Origin makes the ordering total, so
// conflict resolution is deterministic on every client.
type Stamp struct {
	WallMS int64  `json:"wallMs"`
	Seq    int64  `json:"seq"`
	Origin string `json:"origin"`
}

// Compare returns -1, 0 or +1 ordering a before/equal/after b.
func (a Stamp) Compare(b Stamp) int {
	switch {
	case a.WallMS != b.WallMS:
		if a.WallMS < b.WallMS {
			return -1
		}
		return 1
	case a.Seq != b.Seq:
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	case a.Origin != b.Origin:
		if a.Origin < b.Origin {
			return -1
		}
		return 1
	}
	return 0
}

// Entity is one note (or template, media, view, ...) on the wire. Deleted
// entities travel as tombstones, not as omissions, so deletion propagates.
type Entity struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ParentID    string `json:"parentId,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
	Rev         int64  `json:"rev"`
	UpdatedAt   Stamp  `json:"updatedAt"`
	CreatedAtMS int64  `json:"createdAtMs"`
}

// PullResponse carries every entity changed since the requested cursor plus
// the new cursor. Order of Entities is not significant.
type PullResponse struct {
	Cursor   int64    `json:"cursor"`
	Entities []Entity `json:"entities"`
}

// Mutation is one pending local change submitted for acceptance. BaseRev is
// the revision the client last saw for the entity (0 for never-synced), used
// by the server for conflict detection.
type Mutation struct {
	ID      string  `json:"id"`
	Op      string  `json:"op"`
	BaseRev int64   `json:"baseRev"`
	Entity  *Entity `json:"entity,omitempty"`
}

// PushRequest is a batch of mutations. The server answers every mutation,
// in order, with one Outcome.
type PushRequest struct {
	Mutations []Mutation `json:"mutations"`
}

// Outcome reports the fate of one pushed mutation.
//
//   - StatusAccepted: Rev holds the newly assigned revision.
//   - StatusConflict: Server holds the authoritative current state; the
//     client merges against it. Not an error.
//   - StatusRejected: Reason explains why; the mutation stays pending on the
//     client.
type Outcome struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Rev    int64   `json:"rev,omitempty"`
	Server *Entity `json:"server,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// PushResponse mirrors PushRequest item-for-item.
type PushResponse struct {
	Results []Outcome `json:"results"`
}

// UploadURLResponse carries a presigned PUT URL for a media blob and the
// storage key the client should record in the media entity's content.
type UploadURLResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
