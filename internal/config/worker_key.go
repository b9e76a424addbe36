package config

type WorkerKeyStruct struct {
	PersistIntegrityQueue string
	PersistAnswersQueue   string
	PersistResultsQueue   string
}

var WorkerKey = &WorkerKeyStruct{
	PersistIntegrityQueue: "persist_integrity_queue",
	PersistAnswersQueue:   "persist_answers_queue",
	PersistResultsQueue:   "persist_results_queue",
}
