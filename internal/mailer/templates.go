package mailer

import "fmt"

// Template names double as the metrics label.
const (
	TemplateSubmissionReceived = "submission_received"
	TemplateListingApproved    = "listing_approved"
	TemplateListingRejected    = "listing_rejected"
	TemplateListingRemoved     = "listing_removed"
)

const signature = "\n\nBest regards,\nThe PawFinds Team"

// SubmissionReceived confirms a new listing is awaiting review.
func SubmissionReceived(to, name string) Message {
	return Message{
		Template: TemplateSubmissionReceived,
		To:       to,
		Subject:  "Pet Submission Received - PawFinds",
		Body: fmt.Sprintf("Dear %s,\n\n"+
			"Thank you for submitting your pet to PawFinds for adoption.\n\n"+
			"We have received your request, and our admin team is currently reviewing it. "+
			"Once approved, your pet will be listed on our platform, making it available for adoption by our community of pet lovers.\n\n"+
			"We appreciate your patience and will notify you once your pet's listing is live.\n\n"+
			"If you have any questions or need assistance, feel free to contact us.", name) + signature,
	}
}

// ListingApproved announces that the listing is public.
func ListingApproved(to, name string) Message {
	return Message{
		Template: TemplateListingApproved,
		To:       to,
		Subject:  "Your Pet is Now Live on PawFinds!",
		Body: fmt.Sprintf("Dear %s Owner,\n\n"+
			"Great news! Your pet has been approved and is now live on the PawFinds platform.", name) + signature,
	}
}

func ListingRejected(to, name string) Message {
	return Message{
		Template: TemplateListingRejected,
		To:       to,
		Subject:  "Pet Submission Update - PawFinds",
		Body: fmt.Sprintf("Dear %s Owner,\n\n"+
			"Thank you for your submission. After review, our admin team was unable to approve your pet's listing on the PawFinds platform at this time.\n\n"+
			"If you have any questions or would like to submit again, feel free to contact us.", name) + signature,
	}
}

func ListingRemoved(to, name string) Message {
	return Message{
		Template: TemplateListingRemoved,
		To:       to,
		Subject:  "Pet Submission Removed - PawFinds",
		Body: fmt.Sprintf("Dear %s,\n\n"+
			"We wanted to inform you that your pet submission has been removed from the PawFinds platform by our admin team.", name) + signature,
	}
}
