package web

import (
	"encoding/json"

	"github.com/deemkeen/mammut/activitypub"
)

// GetWebfinger resolves a local username to its actor URI.
func GetWebfinger(fed *activitypub.Federation, user string) (error, string) {
	err, acc := fed.Accounts.ReadAccByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	resp := map[string]interface{}{
		"subject": "acct:" + acc.Username + "@" + fed.Conf.Conf.SslDomain,
		"links": []interface{}{
			map[string]interface{}{
				"rel":  "self",
				"type": "application/activity+json",
				"href": fed.ActorURI(acc.Username),
			},
		},
	}

	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	return nil, string(jsonBytes)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
