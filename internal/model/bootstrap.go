package model

// BootstrapRequest is the Back-To-Home one-click provisioning request.
type BootstrapRequest struct {
	Confirm             bool   `json:"confirm"`
	UserName            string `json:"user_name"`
	PrivateKey          string `json:"private_key"`
	AllowLAN            bool   `json:"allow_lan"`
	ReplaceExistingUser bool   `json:"replace_existing_user"`
	Comment             string `json:"comment,omitempty"`
	ChangeTicket        string `json:"change_ticket,omitempty"`
}

// BootstrapStep is the outcome of one tracked provisioning step.
type BootstrapStep struct {
	Name     string `json:"name"`
	ChangeID string `json:"change_id,omitempty"`
	Status   Status `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BootstrapReport summarizes a Back-To-Home bootstrap run. With
// Confirm=false only validation runs and Steps lists what would execute.
type BootstrapReport struct {
	UserVisibleAfterRun bool            `json:"user_visible_after_run"`
	Missing             []string        `json:"missing"`
	NextSteps           []string        `json:"next_steps"`
	Steps               []BootstrapStep `json:"steps,omitempty"`
}
