// Package model holds the engine's immutable data types (spec §3): Message,
// MediaGroup, AtomicUnit, Assignment, ScratchHandle, SendBatch,
// DistributionResult and RunReport. Nothing here performs I/O; these are the
// values every other package passes between stages.
package model

import "time"

// MessageID is the remote service's per-channel message identifier.
type MessageID int64

// ChannelID identifies a source or destination channel.
type ChannelID int64

// SessionName uniquely identifies a Session within the pool.
type SessionName string

// MediaKind enumerates the media shapes the remote service distinguishes
// for transport-mode selection (§4.6) and batch-compatibility (§4.7).
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaVideo
	MediaAudio
	MediaVoice
	MediaVideoNote
	MediaAnimation
	MediaDocument
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaVoice:
		return "voice"
	case MediaVideoNote:
		return "video_note"
	case MediaAnimation:
		return "animation"
	case MediaDocument:
		return "document"
	default:
		return "none"
	}
}

// ParseMediaKind is String's inverse, used to decode the config file's
// exclude_kinds filter list; an unrecognised name reports ok=false.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch s {
	case "photo":
		return MediaPhoto, true
	case "video":
		return MediaVideo, true
	case "audio":
		return MediaAudio, true
	case "voice":
		return MediaVoice, true
	case "video_note":
		return MediaVideoNote, true
	case "animation":
		return MediaAnimation, true
	case "document":
		return MediaDocument, true
	default:
		return MediaNone, false
	}
}

// BatchClass groups kinds that may ride in the same SendBatch (§4.7, §3):
// photo and video mix freely, documents and audio only batch with their own
// kind, and voice/video-note/animation only ever travel as singleton
// batches.
type BatchClass int

const (
	BatchPhotoVideo BatchClass = iota
	BatchDocument
	BatchAudio
	BatchSingleton
)

// ClassOf maps a MediaKind to its batching-compatibility class.
func (k MediaKind) ClassOf() BatchClass {
	switch k {
	case MediaPhoto, MediaVideo:
		return BatchPhotoVideo
	case MediaDocument:
		return BatchDocument
	case MediaAudio:
		return BatchAudio
	default:
		return BatchSingleton
	}
}

// MediaRef describes the media payload attached to a Message, if any.
type MediaRef struct {
	Kind       MediaKind
	Size       int64  // declared file size in bytes; 0 if none
	FileName   string // original file name, empty if the service did not supply one
	Identifier string // opaque service identifier, populated once fetched/uploaded
}

// Message is immutable once returned by the Fetcher (spec §3 "immutable
// after fetch"). Identity is (ChannelID, ID).
type Message struct {
	ChannelID  ChannelID
	ID         MessageID
	AuthorDate time.Time
	Text       string
	Caption    string
	Media      *MediaRef // nil if the message carries no media
	GroupID    string    // non-empty iff the message is part of an atomic media group
}

// HasMedia reports whether the message carries a media payload.
func (m Message) HasMedia() bool { return m.Media != nil }

// Weight is the message's contribution to an AtomicUnit's load-balancing
// weight: its declared media size, or 0 for text-only messages.
func (m Message) Weight() int64 {
	if m.Media == nil {
		return 0
	}
	return m.Media.Size
}

// MaxGroupSize is the remote service's documented media-group cap (spec §3).
const MaxGroupSize = 10
