package repository

import (
	"fmt"
	"strconv"
	"strings"
)

// Ephemeral store key scheme
const deadlinesKey = "rounds:deadlines"

func stateKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:state", auctionID)
}

func bidLockKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:bidders", auctionID)
}

func bidsKey(auctionID string, round int) string {
	return fmt.Sprintf("auction:%s:round:%d:bids", auctionID, round)
}

func settledKey(auctionID string, round int) string {
	return fmt.Sprintf("auction:%s:round:%d:settled", auctionID, round)
}

func claimKey(auctionID string, round int) string {
	return fmt.Sprintf("auction:%s:round:%d:claim", auctionID, round)
}

func frozenKey(userID string) string {
	return fmt.Sprintf("wallet:%s:frozen", userID)
}

func timerMember(auctionID string, round int) string {
	return auctionID + ":" + strconv.Itoa(round)
}

func parseTimerMember(member string) (string, int, error) {
	i := strings.LastIndex(member, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed timer member %q", member)
	}
	round, err := strconv.Atoi(member[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed timer member %q: %w", member, err)
	}
	return member[:i], round, nil
}
