package models

// All lists the tables the engine migrates.
func All() []interface{} {
	return []interface{}{
		&User{},
		&PromptDay{},
		&Take{},
		&CreditBalance{},
		&CreditHistory{},
	}
}
