package routing

import (
	"strconv"
	"strings"
)

// supergroupPrefix is the marker of fully-qualified supergroup/channel ids.
const supergroupPrefix = "-100"

// NormalizeGroupID converts a short chat id into its supergroup form by
// prefixing "-100". Ids already in that form are returned unchanged.
func NormalizeGroupID(chatID int64) int64 {
	s := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(s, supergroupPrefix) {
		return chatID
	}
	s = supergroupPrefix + strings.TrimPrefix(s, "-")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return chatID
	}
	return id
}
