package domain

import (
	"github.com/heimdex/heimdex-backend/internal/domain/jobs"
	"github.com/heimdex/heimdex-backend/internal/domain/persons"
	"github.com/heimdex/heimdex-backend/internal/domain/prefs"
	"github.com/heimdex/heimdex-backend/internal/domain/scenes"
	"github.com/heimdex/heimdex-backend/internal/domain/tenants"
	"github.com/heimdex/heimdex-backend/internal/domain/videos"
)

type Tenant = tenants.Tenant

type Video = videos.Video

const (
	VideoStatusPending    = videos.StatusPending
	VideoStatusProcessing = videos.StatusProcessing
	VideoStatusReady      = videos.StatusReady
	VideoStatusFailed     = videos.StatusFailed

	VideoStageQueued       = videos.StageQueued
	VideoStageProbing      = videos.StageProbing
	VideoStageScenes       = videos.StageScenes
	VideoStageTranscribing = videos.StageTranscribing
	VideoStageAnalyzing    = videos.StageAnalyzing
	VideoStageEmbedding    = videos.StageEmbedding
	VideoStageIndexing     = videos.StageIndexing
	VideoStageDone         = videos.StageDone
)

type Scene = scenes.Scene
type ChannelEmbedding = scenes.ChannelEmbedding
type Keyframe = scenes.Keyframe

const (
	ChannelTranscript = scenes.ChannelTranscript
	ChannelVisual     = scenes.ChannelVisual
	ChannelSummary    = scenes.ChannelSummary
	ChannelClipImage  = scenes.ChannelClipImage
)

type Person = persons.Person
type PersonAppearance = persons.PersonAppearance

const (
	PersonStatusPending = persons.StatusPending
	PersonStatusReady   = persons.StatusReady
)

type SearchPreference = prefs.SearchPreference

type JobRun = jobs.JobRun
type JobRunEvent = jobs.JobRunEvent
type JobEventKind = jobs.JobEventKind

const (
	JobKindIngest      = jobs.KindIngest
	JobKindReprocess   = jobs.KindReprocess
	JobKindExport      = jobs.KindExport
	JobKindPersonPhoto = jobs.KindPersonPhoto

	JobStatusQueued     = jobs.StatusQueued
	JobStatusProcessing = jobs.StatusProcessing
	JobStatusSucceeded  = jobs.StatusSucceeded
	JobStatusFailed     = jobs.StatusFailed
	JobStatusCanceled   = jobs.StatusCanceled

	JobEventCreated   = jobs.JobEventCreated
	JobEventProgress  = jobs.JobEventProgress
	JobEventFailed    = jobs.JobEventFailed
	JobEventSucceeded = jobs.JobEventSucceeded
	JobEventCanceled  = jobs.JobEventCanceled
)

// JobTerminal reports whether a job status is final.
func JobTerminal(status string) bool { return jobs.Terminal(status) }
