package agent

// BuiltinFactories is the compile-time table of agent constructors, keyed
// by agent id.
func BuiltinFactories() map[string]Factory {
	return map[string]Factory{
		DataExtractionAgentID: NewDataExtractionAgent,
		NoteTakingAgentID:     NewNoteTakingAgent,
	}
}
