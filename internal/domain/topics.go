package domain

import "sentinal-realtime/pkg/events"

// TopicThreadCreated carries new conversations from business workflows.
var TopicThreadCreated = events.NewTopic[ThreadCreated]("thread.created")
