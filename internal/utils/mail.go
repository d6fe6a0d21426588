package utils

import "strings"

// Mailbox returns the mailbox part of an email address, without any
// subaddress ("user+tag@host" -> "user").
func Mailbox(email string) string {
	mailbox, _, _ := EmailParts(email)
	return mailbox
}

// Subaddress returns the subaddress (plus-tag) part of an email address.
func Subaddress(email string) string {
	_, sub, _ := EmailParts(email)
	return sub
}

// Hostname returns the hostname part of an email address.
func Hostname(email string) string {
	return email[strings.LastIndex(email, "@")+1:]
}

// EmailParts splits an email address into mailbox, subaddress and hostname.
func EmailParts(email string) (mailbox, subaddress, hostname string) {
	index := strings.Index(email, "@")
	if index == -1 {
		return email, "", ""
	}
	local := email[:index]
	hostname = Hostname(email)

	if plus := strings.Index(local, "+"); plus != -1 {
		mailbox = local[:plus]
		subaddress = strings.TrimLeft(local[plus:], "+")
	} else {
		mailbox = local
	}
	return mailbox, subaddress, hostname
}
