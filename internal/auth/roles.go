package auth

import "time"

// Role is a dashboard user's role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// User is an authenticated dashboard user.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Allowed reports whether user holds one of roles. A nil user is never
// allowed.
func Allowed(user *User, roles ...Role) bool {
	if user == nil {
		return false
	}
	for _, r := range roles {
		if user.Role == r {
			return true
		}
	}
	return false
}

// Page identifies a role-gated area of the dashboard.
type Page string

const (
	PageDashboard Page = "dashboard"
	PageScan      Page = "scan"
	PageRegister  Page = "register"
	PageStudents  Page = "students"
	PageRecords   Page = "records"
	PageSMSLogs   Page = "sms-logs"
	PageSettings  Page = "settings"
)

// NavItem is one sidebar entry.
type NavItem struct {
	Page  Page   `json:"page"`
	Label string `json:"label"`
	Href  string `json:"href"`
}

type pageRule struct {
	item  NavItem
	roles []Role
}

var everyone = []Role{RoleAdmin, RoleInstructor, RoleStudent}

// pages is ordered as the sidebar shows it.
var pages = []pageRule{
	{NavItem{PageDashboard, "Dashboard", "/dashboard"}, everyone},
	{NavItem{PageScan, "Scan Attendance", "/scan"}, []Role{RoleAdmin, RoleInstructor}},
	{NavItem{PageRegister, "Register Student", "/register"}, []Role{RoleAdmin}},
	{NavItem{PageStudents, "Students", "/students"}, []Role{RoleAdmin, RoleInstructor}},
	{NavItem{PageRecords, "Attendance Records", "/records"}, everyone},
	{NavItem{PageSMSLogs, "SMS Logs", "/sms-logs"}, []Role{RoleAdmin}},
	{NavItem{PageSettings, "Settings", "/settings"}, []Role{RoleAdmin}},
}

// PageRoles returns the roles allowed on page. Unknown pages allow nobody.
func PageRoles(page Page) []Role {
	for _, p := range pages {
		if p.item.Page == page {
			return p.roles
		}
	}
	return nil
}

// CanAccess reports whether user may open page.
func CanAccess(user *User, page Page) bool {
	return Allowed(user, PageRoles(page)...)
}

// NavItems lists the pages user may open.
func NavItems(user *User) []NavItem {
	var out []NavItem
	for _, p := range pages {
		if Allowed(user, p.roles...) {
			out = append(out, p.item)
		}
	}
	return out
}
