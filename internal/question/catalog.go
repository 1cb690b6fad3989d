package question

// The canonical questionnaire. Index positions are stable identifiers:
// answers are stored against them and per-user orderings permute them, so
// entries must never be reordered or removed, only appended.
var catalog = [35]string{
	// Gate questions, answerable before authentication.
	"What is one thing you believe to be true that you cannot prove?",
	"When was the last time you changed your mind about something important?",

	"What do you pretend to understand but actually don't?",
	"What truth are you avoiding right now?",
	"What would you do differently if nobody would ever find out?",
	"Which of your opinions did you inherit rather than form?",
	"What do you want that you are ashamed of wanting?",
	"When do you feel most like yourself?",
	"What lie do you tell most often?",
	"What are you certain about that most people around you doubt?",
	"What question are you afraid to ask because of what the answer might be?",
	"Whose approval do you still seek, and why?",
	"What have you given up on too early?",
	"What do you owe that you have not repaid?",
	"If your life repeated itself exactly, at what point would you start paying attention?",
	"What part of your past do you edit when you retell it?",
	"What would you defend even if you were the last person defending it?",
	"What are you doing now only because you started doing it long ago?",
	"What does your anger usually protect?",
	"What compliment do you distrust when you receive it?",
	"What have you mistaken for love?",
	"What do you practice being, rather than simply being?",
	"Which of your fears has never once come true?",
	"What conversation are you postponing?",
	"What do you notice about others that you refuse to notice about yourself?",
	"When did you last feel genuinely free?",
	"What rule do you follow that serves nobody?",
	"What would you ask for if asking cost nothing?",
	"What do you keep private not from shame but from protectiveness?",
	"What ending are you pretending is not already here?",
	"What would your younger self not forgive you for?",
	"What do you hope is true about death?",
	"Knowing everything you now know, what would you still choose again?",

	// Reserved closing positions.
	"What is true about you that no one has ever said aloud?",
	"What is your formulation of truth?",
}

// Total is the number of canonical questions.
const Total = len(catalog)

// GateCount is how many leading questions are answerable pre-authentication.
const GateCount = 2

// Text returns the canonical text for a question index.
func Text(index int) (string, bool) {
	if index < 0 || index >= Total {
		return "", false
	}
	return catalog[index], true
}
