package store

import (
	"math"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableChunks        = "chunks"
	tableConversations = "conversations"
	tableReviewItems   = "review_items"
	tableReminders     = "reminders"
	tableProgress      = "progress"
	tableChallenges    = "challenges"
	tableNotifications = "notifications"
	tablePreferences   = "preferences"
	tableStudents      = "students"
	tableSubscriptions = "subscriptions"
	tableLLMEvents     = "llm_request_events"
)

func idColumn() *schema.Column {
	return &schema.Column{Name: "id", Type: field.TypeString, Size: 64}
}

func str(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: 255}
}

func text(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: math.MaxInt32}
}

func integer(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeInt, Default: 0}
}

func ts(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeTime}
}

func optionalTS(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeTime, Nullable: true}
}

func jsonColumn(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeJSON, Nullable: true}
}

// table builds a table whose first column is the primary key.
func table(name string, cols ...*schema.Column) *schema.Table {
	return &schema.Table{Name: name, Columns: cols, PrimaryKey: cols[:1]}
}

// index adds an index over the named columns of t.
func index(t *schema.Table, name string, unique bool, cols ...string) {
	idx := &schema.Index{Name: name, Unique: unique}
	for _, c := range cols {
		for _, tc := range t.Columns {
			if tc.Name == c {
				idx.Columns = append(idx.Columns, tc)
			}
		}
	}
	t.Indexes = append(t.Indexes, idx)
}

var (
	chunksTable = table(tableChunks,
		idColumn(),
		str("knowledge_base_id"),
		text("content"),
		str("source_type"),
		integer("source_page"),
		str("source_section"),
		text("context_window"),
		integer("position"),
		&schema.Column{Name: "embedding", Type: field.TypeBytes, Nullable: true},
		&schema.Column{Name: "claim_token", Type: field.TypeString, Size: 64, Nullable: true},
		optionalTS("claimed_at"),
		ts("created_at"),
		ts("updated_at"),
	)

	conversationsTable = table(tableConversations,
		idColumn(),
		str("student_id"),
		str("knowledge_base_id"),
		jsonColumn("messages"),
		jsonColumn("chunk_refs"),
		ts("created_at"),
		ts("updated_at"),
	)

	reviewItemsTable = table(tableReviewItems,
		idColumn(),
		str("student_id"),
		str("knowledge_base_id"),
		str("chunk_id"),
		&schema.Column{Name: "easiness_factor", Type: field.TypeFloat64, Default: 2.5},
		integer("repetitions"),
		integer("interval_days"),
		optionalTS("next_review_at"),
		optionalTS("last_reviewed_at"),
		jsonColumn("history"),
		ts("created_at"),
		ts("updated_at"),
	)

	remindersTable = table(tableReminders,
		idColumn(),
		str("student_id"),
		str("knowledge_base_id"),
		str("type"),
		str("title"),
		text("message"),
		ts("scheduled_at"),
		&schema.Column{Name: "recurring", Type: field.TypeBool, Default: false},
		str("pattern"),
		&schema.Column{Name: "priority", Type: field.TypeFloat64, Default: 1.0},
		&schema.Column{Name: "active", Type: field.TypeBool, Default: true},
		optionalTS("sent_at"),
		integer("send_count"),
		ts("created_at"),
		ts("updated_at"),
	)

	progressTable = table(tableProgress,
		idColumn(),
		str("student_id"),
		str("knowledge_base_id"),
		integer("current_streak"),
		integer("longest_streak"),
		integer("total_points"),
		integer("challenges_completed"),
		integer("challenges_correct"),
		optionalTS("last_challenge_at"),
		jsonColumn("achievements"),
		ts("created_at"),
		ts("updated_at"),
	)

	challengesTable = table(tableChallenges,
		idColumn(),
		str("student_id"),
		str("knowledge_base_id"),
		str("type"),
		str("title"),
		text("content"),
		text("correct_answer"),
		jsonColumn("options"),
		text("explanation"),
		integer("points"),
		ts("scheduled_for"),
		optionalTS("sent_at"),
		optionalTS("answered_at"),
		text("student_answer"),
		&schema.Column{Name: "is_correct", Type: field.TypeBool, Nullable: true},
		integer("points_earned"),
		text("feedback"),
		ts("created_at"),
		ts("updated_at"),
	)

	notificationsTable = table(tableNotifications,
		idColumn(),
		str("student_id"),
		str("subject"),
		text("content"),
		str("channel"),
		str("status"),
		str("external_id"),
		text("error"),
		integer("retry_count"),
		optionalTS("sent_at"),
		optionalTS("delivered_at"),
		optionalTS("read_at"),
		ts("created_at"),
		ts("updated_at"),
	)

	preferencesTable = table(tablePreferences,
		&schema.Column{Name: "student_id", Type: field.TypeString, Size: 64},
		&schema.Column{Name: "enabled", Type: field.TypeBool, Default: true},
		jsonColumn("priority"),
		jsonColumn("contacts"),
		ts("created_at"),
		ts("updated_at"),
	)

	studentsTable = table(tableStudents,
		idColumn(),
		str("name"),
		ts("created_at"),
	)

	subscriptionsTable = func() *schema.Table {
		student := &schema.Column{Name: "student_id", Type: field.TypeString, Size: 64}
		kb := &schema.Column{Name: "knowledge_base_id", Type: field.TypeString, Size: 64}
		return &schema.Table{
			Name: tableSubscriptions,
			Columns: []*schema.Column{
				student, kb,
				{Name: "active", Type: field.TypeBool, Default: true},
				ts("created_at"),
			},
			PrimaryKey: []*schema.Column{student, kb},
		}
	}()

	llmEventsTable = table(tableLLMEvents,
		&schema.Column{Name: "id", Type: field.TypeInt, Increment: true},
		ts("timestamp"),
		str("provider"),
		str("model"),
		str("purpose"),
		integer("input_tokens"),
		integer("output_tokens"),
		&schema.Column{Name: "latency_ms", Type: field.TypeInt64, Default: 0},
		&schema.Column{Name: "success", Type: field.TypeBool, Default: true},
		text("error_message"),
		text("request_body"),
		text("response_body"),
	)
)

// Tables is the full schema in creation order.
var Tables = []*schema.Table{
	chunksTable,
	conversationsTable,
	reviewItemsTable,
	remindersTable,
	progressTable,
	challengesTable,
	notificationsTable,
	preferencesTable,
	studentsTable,
	subscriptionsTable,
	llmEventsTable,
}

func init() {
	index(chunksTable, "chunks_knowledge_base_position", false, "knowledge_base_id", "position")
	index(conversationsTable, "conversations_student_kb", false, "student_id", "knowledge_base_id")
	index(reviewItemsTable, "review_items_student_chunk", true, "student_id", "chunk_id")
	index(reviewItemsTable, "review_items_next_review_at", false, "next_review_at")
	index(remindersTable, "reminders_active_scheduled_at", false, "active", "scheduled_at")
	index(progressTable, "progress_student_kb", true, "student_id", "knowledge_base_id")
	index(challengesTable, "challenges_student_scheduled_for", false, "student_id", "scheduled_for")
	index(notificationsTable, "notifications_student_created_at", false, "student_id", "created_at")
	index(llmEventsTable, "llm_request_events_purpose", false, "purpose")
}
