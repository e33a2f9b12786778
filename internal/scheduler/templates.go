package scheduler

// Template pools for synthesized autonomous prompts. The scheduler does
// not write persona text itself; it seeds the pipeline with a topic
// prompt and the selected persona answers in its own voice.

// workTemplates are used while a task override is committed.
var workTemplates = []string{
	"Give a quick progress check on the current task: %s. What is done, what is blocked?",
	"Looking at the task \"%s\", what should the very next step be?",
	"Any risks or surprises so far while working on %s?",
	"Share one concrete thing you finished or learned on the task: %s.",
}

// meetingTemplates are used in the active phase with no committed task.
var meetingTemplates = []string{
	"What is the most important thing this channel should tackle today?",
	"Quick standup: what is everyone focused on right now?",
	"Is there anything unresolved from yesterday worth picking back up?",
	"Pick one improvement to how we work and make the case for it.",
	"What is blocking progress at the moment, if anything?",
}

// casualTemplates are used in the free phase (lounge talk).
var casualTemplates = []string{
	"What was the highlight of today?",
	"Share something interesting you ran into recently.",
	"If tomorrow were completely free, what would you spend it on?",
	"Any music, book, or show worth recommending?",
	"What is a small thing that made today better?",
}
