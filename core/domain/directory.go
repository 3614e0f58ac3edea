package domain

// Typed directory models for the four supported resource collections.
// All fields are optional on the wire; absent fields simply stay zero.

// RemovedInfo is the removal marker carried by deleted records.
type RemovedInfo struct {
	Reason string `json:"reason"`
}

// User is a directory user.
type User struct {
	ID                string       `json:"id"`
	DisplayName       string       `json:"displayName"`
	UserPrincipalName string       `json:"userPrincipalName"`
	Mail              string       `json:"mail"`
	GivenName         string       `json:"givenName"`
	Surname           string       `json:"surname"`
	JobTitle          string       `json:"jobTitle"`
	Department        string       `json:"department"`
	AccountEnabled    *bool        `json:"accountEnabled"`
	Removed           *RemovedInfo `json:"@removed"`
}

// Group is a directory group.
type Group struct {
	ID              string       `json:"id"`
	DisplayName     string       `json:"displayName"`
	Description     string       `json:"description"`
	Mail            string       `json:"mail"`
	MailEnabled     *bool        `json:"mailEnabled"`
	SecurityEnabled *bool        `json:"securityEnabled"`
	GroupTypes      []string     `json:"groupTypes"`
	Removed         *RemovedInfo `json:"@removed"`
}

// Application is a registered application.
type Application struct {
	ID             string       `json:"id"`
	AppID          string       `json:"appId"`
	DisplayName    string       `json:"displayName"`
	SignInAudience string       `json:"signInAudience"`
	Tags           []string     `json:"tags"`
	Removed        *RemovedInfo `json:"@removed"`
}

// ServicePrincipal is an application's service principal.
type ServicePrincipal struct {
	ID                   string       `json:"id"`
	AppID                string       `json:"appId"`
	DisplayName          string       `json:"displayName"`
	ServicePrincipalType string       `json:"servicePrincipalType"`
	AccountEnabled       *bool        `json:"accountEnabled"`
	Tags                 []string     `json:"tags"`
	Removed              *RemovedInfo `json:"@removed"`
}
