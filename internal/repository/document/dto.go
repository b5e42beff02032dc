package document

import (
	"strconv"
	"strings"

	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
)

// Hash field names double as FT index attribute names, so the resolver's
// filter expressions address them directly.
const (
	fieldOwnerOrg         = "owner_org"
	fieldUploader         = "uploader"
	fieldContentRef       = "content_ref"
	fieldContentType      = "content_type"
	fieldContentHash      = "content_hash"
	fieldVisibility       = "visibility"
	fieldSharedOrgs       = "shared_orgs"
	fieldSharedUsers      = "shared_users"
	fieldPlatformProvided = "platform_provided"
	fieldState            = "state"
	fieldInconsistent     = "inconsistent"
	fieldAttempts         = "attempts"
	fieldChunkCount       = "chunk_count"
	fieldQueryCount       = "query_count"
	fieldLastAccessedAt   = "last_accessed_at"
	fieldUpdatedAt        = "updated_at"
	fieldCreatedAt        = "created_at"
)

// tagListSep joins multi-value TAG fields; it matches the SEPARATOR declared
// on the shared_orgs and shared_users index attributes.
const tagListSep = ","

// buildHashFields converts a domain Document into a flat map for HSET.
func buildHashFields(doc *domdoc.Document) map[string]string {
	sharing := doc.Sharing()
	return map[string]string{
		fieldOwnerOrg:         doc.OwnerOrg(),
		fieldUploader:         doc.Uploader(),
		fieldContentRef:       doc.ContentRef(),
		fieldContentType:      doc.ContentType(),
		fieldContentHash:      doc.ContentHash(),
		fieldVisibility:       string(sharing.Visibility()),
		fieldSharedOrgs:       strings.Join(sharing.Organizations(), tagListSep),
		fieldSharedUsers:      strings.Join(sharing.Users(), tagListSep),
		fieldPlatformProvided: formatBool(doc.PlatformProvided()),
		fieldState:            string(doc.State()),
		fieldInconsistent:     formatBool(doc.Inconsistent()),
		fieldAttempts:         strconv.Itoa(doc.Attempts()),
		fieldChunkCount:       strconv.Itoa(doc.ChunkCount()),
		fieldQueryCount:       strconv.Itoa(doc.QueryCount()),
		fieldLastAccessedAt:   strconv.FormatInt(doc.LastAccessedAt(), 10),
		fieldUpdatedAt:        strconv.FormatInt(doc.UpdatedAt(), 10),
		fieldCreatedAt:        strconv.FormatInt(doc.CreatedAt(), 10),
	}
}

// parseHashFields converts a flat hash map back into a domain Document.
func parseHashFields(id string, m map[string]string) domdoc.Document {
	return domdoc.Reconstruct(domdoc.Fields{
		ID:               id,
		OwnerOrg:         m[fieldOwnerOrg],
		Uploader:         m[fieldUploader],
		ContentRef:       m[fieldContentRef],
		ContentType:      m[fieldContentType],
		ContentHash:      m[fieldContentHash],
		Visibility:       domdoc.Visibility(m[fieldVisibility]),
		SharedOrgs:       splitTagList(m[fieldSharedOrgs]),
		SharedUsers:      splitTagList(m[fieldSharedUsers]),
		PlatformProvided: m[fieldPlatformProvided] == "1",
		State:            domdoc.State(m[fieldState]),
		Inconsistent:     m[fieldInconsistent] == "1",
		Attempts:         parseInt(m[fieldAttempts]),
		ChunkCount:       parseInt(m[fieldChunkCount]),
		QueryCount:       parseInt(m[fieldQueryCount]),
		LastAccessedAt:   parseInt64(m[fieldLastAccessedAt]),
		UpdatedAt:        parseInt64(m[fieldUpdatedAt]),
		CreatedAt:        parseInt64(m[fieldCreatedAt]),
	})
}

func splitTagList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, tagListSep)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
