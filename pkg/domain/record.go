package domain

// Record is one parsed line of a step file.
type Record struct {
	Position int
	Label    string
	H        float64
	N        float64
}

// StepInput carries one step's records into Titration.IngestStep.
type StepInput struct {
	Step    int
	Source  string
	Records []Record
	// Volume is the titrant volume added before this step, when known.
	Volume *float64
}
